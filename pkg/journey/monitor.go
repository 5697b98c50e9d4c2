package journey

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jcateye/omini-channel/pkg/eventbus"
	"github.com/Jcateye/omini-channel/pkg/events"
	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

// Monitor is the sole writer of terminal run status. It closes a run as
// completed when no open steps remain, and as failed as soon as any step
// fails. Both paths rely on CloseRun being conditional, so a run that is
// already terminal is never rewritten.
type Monitor struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewMonitor(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Monitor {
	return &Monitor{
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "journey_monitor"),
	}
}

// OnStepCompleted closes the run as completed when no steps remain pending
// or running.
func (m *Monitor) OnStepCompleted(ctx context.Context, run *models.Run) error {
	open, err := m.persistence.Runs().CountOpenSteps(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to count open steps: %w", err)
	}

	if open > 0 {
		return nil
	}

	err = m.persistence.Runs().CloseRun(ctx, run.ID, models.RunStatusCompleted, "")
	if err != nil {
		return fmt.Errorf("failed to close run: %w", err)
	}

	m.logger.InfoContext(ctx, "Run completed", "run_id", run.ID, "journey_id", run.JourneyID)

	m.publish(ctx, run.JourneyID, events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, run.TenantID),
		RunID:     run.ID,
		JourneyID: run.JourneyID,
	})

	return nil
}

// OnStepFailed closes the run as failed. Sibling steps already scheduled
// stay pending; their dispatch finds the run no longer running and no-ops.
func (m *Monitor) OnStepFailed(ctx context.Context, run *models.Run, step *models.RunStep, cause error) error {
	err := m.persistence.Runs().CloseRun(ctx, run.ID, models.RunStatusFailed, cause.Error())
	if err != nil {
		return fmt.Errorf("failed to close run: %w", err)
	}

	m.logger.WarnContext(ctx, "Run failed",
		"run_id", run.ID,
		"journey_id", run.JourneyID,
		"step_id", step.ID,
		"node_id", step.NodeID,
		"error", cause)

	m.publish(ctx, run.JourneyID, events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, run.TenantID),
		RunID:     run.ID,
		JourneyID: run.JourneyID,
		Error:     cause.Error(),
	})

	return nil
}

func (m *Monitor) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	err := m.publisher.Publish(ctx, key, event)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish run event",
			"event_type", event.GetType(), "error", err)
	}
}
