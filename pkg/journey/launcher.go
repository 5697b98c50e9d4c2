package journey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Jcateye/omini-channel/pkg/eventbus"
	"github.com/Jcateye/omini-channel/pkg/events"
	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/queue"
	"github.com/Jcateye/omini-channel/pkg/tracing"
)

// Launcher turns matched triggers into runs: it computes the journey's start
// nodes, creates the run with its trigger snapshot, and enqueues one
// step-execution job per start node.
type Launcher struct {
	persistence persistence.Persistence
	queue       queue.Queue
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewLauncher(
	p persistence.Persistence,
	q queue.Queue,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Launcher {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("journey")
	}

	return &Launcher{
		persistence: p,
		queue:       q,
		publisher:   publisher,
		logger:      logger.With("module", "journey_launcher"),
		tracer:      tracer,
	}
}

// HandleEvent fans an event out over every enabled trigger of the matching
// type across the tenant's active journeys. Journeys are re-read on every
// event so edits take effect immediately. One journey's launch failure does
// not abort the others.
func (l *Launcher) HandleEvent(ctx context.Context, triggerType models.TriggerType, eventCtx models.EventContext) error {
	ctx, span := l.tracer.Start(ctx, "journey.handle_event", trace.WithAttributes(
		attribute.String(tracing.TriggerTypeKey, string(triggerType)),
		attribute.String(tracing.TenantIDKey, eventCtx.TenantID),
	))
	defer span.End()

	journeys, err := l.persistence.Journeys().ListActive(ctx, eventCtx.TenantID)
	if err != nil {
		tracing.SetError(span, err)

		return fmt.Errorf("failed to list active journeys: %w", err)
	}

	for _, journey := range journeys {
		for _, trigger := range journey.Triggers {
			if !trigger.Enabled || trigger.Type != triggerType {
				continue
			}

			if !Matches(trigger.Filter, eventCtx) {
				continue
			}

			_, err := l.Launch(ctx, journey, trigger, eventCtx)
			if err != nil {
				l.logger.ErrorContext(ctx, "Failed to launch run",
					"journey_id", journey.ID,
					"trigger_id", trigger.ID,
					"error", err)
			}
		}
	}

	return nil
}

// LaunchByTrigger launches a specific trigger of a specific journey. The
// scheduler uses it for time triggers it has already resolved; the trigger
// filter is not re-evaluated.
func (l *Launcher) LaunchByTrigger(ctx context.Context, journeyID, triggerID string, eventCtx models.EventContext) (*models.Run, error) {
	journey, err := l.persistence.Journeys().GetByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey %s: %w", journeyID, err)
	}

	if !journey.IsActive() {
		return nil, nil
	}

	for _, trigger := range journey.Triggers {
		if trigger.ID == triggerID && trigger.Enabled {
			return l.Launch(ctx, journey, trigger, eventCtx)
		}
	}

	return nil, nil
}

// Launch creates one run of the journey. A journey whose graph has no start
// node is skipped: that is an authoring problem surfaced by the validation
// layer, not an engine failure.
func (l *Launcher) Launch(ctx context.Context, journey *models.Journey, trigger *models.Trigger, eventCtx models.EventContext) (*models.Run, error) {
	ctx, span := l.tracer.Start(ctx, "journey.launch", trace.WithAttributes(
		attribute.String(tracing.JourneyIDKey, journey.ID),
		attribute.String(tracing.TriggerIDKey, trigger.ID),
	))
	defer span.End()

	graph := NewGraph(journey)

	startNodes := graph.StartNodes()
	if len(startNodes) == 0 {
		l.logger.WarnContext(ctx, "Journey has no start node, skipping launch",
			"journey_id", journey.ID)

		return nil, nil
	}

	now := time.Now().UTC()

	run := &models.Run{
		ID:          uuid.New().String(),
		TenantID:    journey.TenantID,
		JourneyID:   journey.ID,
		LeadID:      eventCtx.LeadID,
		ContactID:   eventCtx.ContactID,
		ChannelID:   eventCtx.ChannelID,
		TriggerType: trigger.Type,
		Context:     eventCtx,
		Status:      models.RunStatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := l.persistence.Runs().CreateRun(ctx, run)
	if err != nil {
		tracing.SetError(span, err)

		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	l.logger.InfoContext(ctx, "Launched run",
		"run_id", run.ID,
		"journey_id", journey.ID,
		"trigger_type", trigger.Type,
		"start_nodes", len(startNodes))

	for _, node := range startNodes {
		err = scheduleStep(ctx, l.persistence, l.queue, run, node.ID, 0)
		if err != nil {
			tracing.SetError(span, err)

			return nil, err
		}
	}

	l.publishRunStarted(ctx, run)

	return run, nil
}

// scheduleStep creates one pending step and enqueues its execution job,
// optionally delayed. Shared by the launcher (start nodes) and the
// dispatcher (continuations).
func scheduleStep(ctx context.Context, p persistence.Persistence, q queue.Queue, run *models.Run, nodeID string, delay time.Duration) error {
	now := time.Now().UTC()

	step := &models.RunStep{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		NodeID:    nodeID,
		Status:    models.StepStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if delay > 0 {
		scheduledFor := now.Add(delay)
		step.ScheduledFor = &scheduledFor
	}

	err := p.Runs().CreateStep(ctx, step)
	if err != nil {
		return fmt.Errorf("failed to create run step: %w", err)
	}

	err = q.Enqueue(ctx, queue.StepExecuteJobType, queue.StepJob{
		RunID:     run.ID,
		StepID:    step.ID,
		JourneyID: run.JourneyID,
	}, queue.Options{Delay: delay})
	if err != nil {
		return fmt.Errorf("failed to enqueue step job: %w", err)
	}

	return nil
}

func (l *Launcher) publishRunStarted(ctx context.Context, run *models.Run) {
	if l.publisher == nil {
		return
	}

	event := events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, run.TenantID),
		RunID:       run.ID,
		JourneyID:   run.JourneyID,
		TriggerType: run.TriggerType,
		LeadID:      run.LeadID,
	}

	err := l.publisher.Publish(ctx, run.JourneyID, event)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to publish run started event",
			"run_id", run.ID, "error", err)
	}
}
