package journey

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Jcateye/omini-channel/pkg/eventbus"
	"github.com/Jcateye/omini-channel/pkg/events"
	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/outbound"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/queue"
	"github.com/Jcateye/omini-channel/pkg/tracing"
)

const defaultWebhookTimeout = 30 * time.Second

// Dispatcher consumes step-execution jobs and advances runs one DAG hop per
// job. Every execution starts with an atomic claim of the step, which makes
// duplicate deliveries of the same job no-ops.
type Dispatcher struct {
	persistence persistence.Persistence
	queue       queue.Queue
	monitor     *Monitor
	outbound    outbound.Delivery
	publisher   eventbus.EventPublisher
	httpClient  *http.Client
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewDispatcher(
	p persistence.Persistence,
	q queue.Queue,
	monitor *Monitor,
	delivery outbound.Delivery,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Dispatcher {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("journey")
	}

	return &Dispatcher{
		persistence: p,
		queue:       q,
		monitor:     monitor,
		outbound:    delivery,
		publisher:   publisher,
		httpClient:  &http.Client{Timeout: defaultWebhookTimeout},
		logger:      logger.With("module", "journey_dispatcher"),
		tracer:      tracer,
	}
}

// Register wires the dispatcher onto the queue.
func (d *Dispatcher) Register() {
	d.queue.Handle(queue.StepExecuteJobType, d.HandleStepJob)
}

// HandleStepJob executes one delivery of a step-execution job.
func (d *Dispatcher) HandleStepJob(ctx context.Context, job *queue.Job) error {
	stepJob, err := queue.DecodeStepJob(job)
	if err != nil {
		d.logger.ErrorContext(ctx, "Dropping malformed step job", "job_id", job.ID, "error", err)

		return nil
	}

	ctx, span := d.tracer.Start(ctx, "journey.dispatch_step", trace.WithAttributes(
		attribute.String(tracing.RunIDKey, stepJob.RunID),
		attribute.String(tracing.StepIDKey, stepJob.StepID),
	))
	defer span.End()

	logger := d.logger.With("run_id", stepJob.RunID, "step_id", stepJob.StepID)

	step, err := d.persistence.Runs().GetStep(ctx, stepJob.StepID)
	if err != nil {
		if persistence.IsStepNotFound(err) {
			logger.WarnContext(ctx, "Step job references unknown step, dropping")

			return nil
		}

		tracing.SetError(span, err)

		return fmt.Errorf("failed to load step: %w", err)
	}

	run, err := d.persistence.Runs().GetRun(ctx, step.RunID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			logger.WarnContext(ctx, "Step job references unknown run, dropping")

			return nil
		}

		tracing.SetError(span, err)

		return fmt.Errorf("failed to load run: %w", err)
	}

	// Idempotency gate: a closed run means a sibling already failed the
	// run, or the run finished; either way this delivery is stale.
	if run.Status != models.RunStatusRunning {
		logger.DebugContext(ctx, "Run is not running, skipping step", "run_status", run.Status)

		return nil
	}

	claimed, err := d.persistence.Runs().ClaimStep(ctx, step.ID)
	if err != nil {
		tracing.SetError(span, err)

		return fmt.Errorf("failed to claim step: %w", err)
	}

	if !claimed {
		logger.DebugContext(ctx, "Step already claimed, skipping duplicate delivery")

		return nil
	}

	step.Status = models.StepStatusRunning
	step.Attempts++

	journey, err := d.persistence.Journeys().GetByID(ctx, run.JourneyID)
	if err != nil {
		return d.failStep(ctx, span, run, step, fmt.Errorf("failed to load journey: %w", err))
	}

	graph := NewGraph(journey)

	node := graph.Node(step.NodeID)
	if node == nil {
		return d.failStep(ctx, span, run, step,
			fmt.Errorf("node %s: %w", step.NodeID, persistence.ErrNodeNotFound))
	}

	span.SetAttributes(attribute.String(tracing.NodeTypeKey, string(node.Type)))
	logger = logger.With("node_id", node.ID, "node_type", node.Type)
	logger.InfoContext(ctx, "Executing step")

	result, err := d.executeNode(ctx, graph, node, run)
	if err != nil {
		if result.output != nil {
			step.Output = result.output
		}

		return d.failStep(ctx, span, run, step, err)
	}

	step.Status = models.StepStatusCompleted
	step.Output = result.output
	step.MessageID = result.messageID

	// The node already executed, so a bookkeeping failure from here on
	// must still close the run: a redelivery hits the claim gate and
	// no-ops, and the due-step sweep only recovers pending steps.
	err = d.persistence.Runs().UpdateStep(ctx, step)
	if err != nil {
		return d.failStep(ctx, span, run, step, fmt.Errorf("failed to update step: %w", err))
	}

	d.publishStepCompleted(ctx, run, step)

	for _, edge := range result.edges {
		err = scheduleStep(ctx, d.persistence, d.queue, run, edge.ToNodeID, result.delay)
		if err != nil {
			return d.failStep(ctx, span, run, step, err)
		}
	}

	err = d.monitor.OnStepCompleted(ctx, run)
	if err != nil {
		return d.failStep(ctx, span, run, step, err)
	}

	return nil
}

// nodeResult is the outcome of one node execution: what to record on the
// step and which edges to continue through.
type nodeResult struct {
	output    map[string]any
	messageID string
	edges     []*models.Edge
	delay     time.Duration
}

func (d *Dispatcher) executeNode(ctx context.Context, graph *Graph, node *models.Node, run *models.Run) (nodeResult, error) {
	switch node.Type {
	case models.NodeTypeDelay:
		return d.executeDelay(graph, node)
	case models.NodeTypeCondition:
		return d.executeCondition(ctx, graph, node, run)
	case models.NodeTypeTagUpdate:
		return d.executeTagUpdate(ctx, graph, node, run)
	case models.NodeTypeWebhook:
		return d.executeWebhook(ctx, graph, node, run)
	case models.NodeTypeSendMessage:
		return d.executeSendMessage(ctx, graph, node, run)
	default:
		return nodeResult{}, fmt.Errorf("unsupported node type %q", node.Type)
	}
}

// failStep records the step failure and fails the whole run. The returned
// error propagates to the queue, whose remaining attempts re-deliver the job
// into the idempotency gate.
func (d *Dispatcher) failStep(ctx context.Context, span trace.Span, run *models.Run, step *models.RunStep, cause error) error {
	tracing.SetError(span, cause)

	step.Status = models.StepStatusFailed
	step.Error = cause.Error()

	err := d.persistence.Runs().UpdateStep(ctx, step)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to record step failure",
			"step_id", step.ID, "error", err)
	}

	d.publishStepFailed(ctx, run, step, cause)

	err = d.monitor.OnStepFailed(ctx, run, step, cause)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to close run after step failure",
			"run_id", run.ID, "error", err)
	}

	return cause
}

func (d *Dispatcher) publishStepCompleted(ctx context.Context, run *models.Run, step *models.RunStep) {
	if d.publisher == nil {
		return
	}

	err := d.publisher.Publish(ctx, run.JourneyID, events.StepCompleted{
		BaseEvent: events.NewBaseEvent(events.StepCompletedEvent, run.TenantID),
		RunID:     run.ID,
		StepID:    step.ID,
		NodeID:    step.NodeID,
		Output:    step.Output,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish step completed event",
			"step_id", step.ID, "error", err)
	}
}

func (d *Dispatcher) publishStepFailed(ctx context.Context, run *models.Run, step *models.RunStep, cause error) {
	if d.publisher == nil {
		return
	}

	err := d.publisher.Publish(ctx, run.JourneyID, events.StepFailed{
		BaseEvent: events.NewBaseEvent(events.StepFailedEvent, run.TenantID),
		RunID:     run.ID,
		StepID:    step.ID,
		NodeID:    step.NodeID,
		Error:     cause.Error(),
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish step failed event",
			"step_id", step.ID, "error", err)
	}
}
