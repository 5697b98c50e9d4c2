package journey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Jcateye/omini-channel/pkg/eventbus"
	"github.com/Jcateye/omini-channel/pkg/events"
	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/queue"
)

const (
	// DefaultPollInterval is how often the poller scans for due triggers.
	DefaultPollInterval = time.Minute

	// sweepGrace is how long a delayed step stays overdue before the
	// sweep re-enqueues it. The grace keeps the sweep from racing the
	// queue's own delayed delivery.
	sweepGrace = time.Minute
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Poller is the centralized time-trigger scheduler. One instance scans all
// tenants' active journeys on a fixed interval, fires due triggers as
// synthetic events, and sweeps overdue delayed steps back onto the queue.
type Poller struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	queue       queue.Queue
	logger      *slog.Logger
	interval    time.Duration
	ticker      *time.Ticker
	done        chan bool
	started     bool
	mu          sync.Mutex
}

func NewPoller(
	p persistence.Persistence,
	publisher eventbus.EventPublisher,
	q queue.Queue,
	logger *slog.Logger,
	interval time.Duration,
) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Poller{
		persistence: p,
		publisher:   publisher,
		queue:       q,
		logger:      logger.With("module", "journey_poller"),
		interval:    interval,
	}
}

// Start begins the polling loop. It is a no-op on an already-started poller.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.logger.InfoContext(ctx, "Starting time-trigger poller", "interval", p.interval)

	p.ticker = time.NewTicker(p.interval)
	p.done = make(chan bool)
	p.started = true

	go p.loop(ctx)

	return nil
}

// Stop shuts the polling loop down.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	p.logger.InfoContext(ctx, "Stopping time-trigger poller")

	if p.ticker != nil {
		p.ticker.Stop()
	}

	select {
	case p.done <- true:
	default:
	}

	p.started = false

	return nil
}

func (p *Poller) loop(ctx context.Context) {
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-p.ticker.C:
			p.Poll(ctx, time.Now().UTC())
		}
	}
}

// Poll runs one scan: due time triggers fire, overdue delayed steps are
// re-enqueued. Exported so the scheduler command can run an immediate scan
// at boot.
func (p *Poller) Poll(ctx context.Context, now time.Time) {
	p.fireDueTriggers(ctx, now)
	p.sweepDueSteps(ctx, now)
}

func (p *Poller) fireDueTriggers(ctx context.Context, now time.Time) {
	journeys, err := p.persistence.Journeys().ListActiveWithTimeTriggers(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list journeys with time triggers", "error", err)

		return
	}

	for _, journey := range journeys {
		for _, trigger := range journey.Triggers {
			if trigger.Type != models.TriggerTypeTime || !trigger.Enabled {
				continue
			}

			if !triggerDue(trigger, now) {
				continue
			}

			p.fireTrigger(ctx, journey, trigger, now)
		}
	}
}

// triggerDue reports whether a time trigger should fire at poll time. A
// one-shot trigger is due when its timestamp has passed and postdates the
// last firing. A cron trigger is due when an occurrence falls between the
// last firing and now.
func triggerDue(trigger *models.Trigger, now time.Time) bool {
	if trigger.Schedule == nil {
		return false
	}

	if trigger.Schedule.Cron != "" {
		schedule, err := cronParser.Parse(trigger.Schedule.Cron)
		if err != nil {
			return false
		}

		since := now.Add(-24 * time.Hour)
		if trigger.LastFiredAt != nil {
			since = *trigger.LastFiredAt
		}

		next := schedule.Next(since)

		return !next.After(now)
	}

	fireAt := trigger.Schedule.FireAt
	if fireAt == nil || fireAt.After(now) {
		return false
	}

	if trigger.LastFiredAt != nil && !fireAt.After(*trigger.LastFiredAt) {
		return false
	}

	return true
}

func (p *Poller) fireTrigger(ctx context.Context, journey *models.Journey, trigger *models.Trigger, now time.Time) {
	logger := p.logger.With(
		"tenant_id", journey.TenantID,
		"journey_id", journey.ID,
		"trigger_id", trigger.ID,
	)

	leads, err := p.resolveLeads(ctx, journey.TenantID, trigger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resolve trigger leads", "error", err)

		return
	}

	logger.InfoContext(ctx, "Time trigger due", "leads", len(leads))

	for _, lead := range leads {
		event := events.TimeTriggerFired{
			BaseEvent: events.NewBaseEvent(events.TimeTriggerFiredEvent, journey.TenantID),
			JourneyID: journey.ID,
			TriggerID: trigger.ID,
			Context: models.EventContext{
				TenantID: journey.TenantID,
				LeadID:   lead.ID,
				Tags:     lead.Tags,
				Stage:    lead.Stage,
			},
		}

		err = p.publisher.Publish(ctx, journey.ID, event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to publish time trigger event",
				"lead_id", lead.ID, "error", err)
		}
	}

	// lastFiredAt records the poll time, not the target timestamp, so the
	// same FireAt can never fire twice.
	err = p.persistence.Journeys().UpdateTriggerLastFired(ctx, trigger.ID, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record trigger firing", "error", err)
	}
}

func (p *Poller) resolveLeads(ctx context.Context, tenantID string, trigger *models.Trigger) ([]*models.Lead, error) {
	schedule := trigger.Schedule

	if schedule.LeadID != "" {
		lead, err := p.persistence.Leads().GetLead(ctx, schedule.LeadID)
		if err != nil {
			if persistence.IsLeadNotFound(err) {
				return nil, nil
			}

			return nil, fmt.Errorf("failed to load lead %s: %w", schedule.LeadID, err)
		}

		return []*models.Lead{lead}, nil
	}

	if schedule.Segment == nil {
		return nil, nil
	}

	leads, err := p.persistence.Leads().FindBySegment(ctx, tenantID, *schedule.Segment)
	if err != nil {
		return nil, fmt.Errorf("failed to query segment: %w", err)
	}

	return leads, nil
}

// sweepDueSteps re-enqueues pending steps whose scheduled time has long
// passed. Delayed jobs normally deliver themselves; the sweep covers jobs
// lost to a crash or queue flush. A duplicate delivery is harmless because
// the dispatcher's claim rejects non-pending steps.
func (p *Poller) sweepDueSteps(ctx context.Context, now time.Time) {
	steps, err := p.persistence.Runs().ListDueSteps(ctx, now.Add(-sweepGrace))
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list due steps", "error", err)

		return
	}

	if len(steps) == 0 {
		return
	}

	p.logger.InfoContext(ctx, "Re-enqueueing overdue delayed steps", "count", len(steps))

	for _, step := range steps {
		run, err := p.persistence.Runs().GetRun(ctx, step.RunID)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to load run for overdue step",
				"step_id", step.ID, "error", err)

			continue
		}

		if run.Status != models.RunStatusRunning {
			continue
		}

		job := queue.StepJob{RunID: run.ID, StepID: step.ID, JourneyID: run.JourneyID}

		err = p.queue.Enqueue(ctx, queue.StepExecuteJobType, job, queue.Options{})
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to re-enqueue overdue step",
				"step_id", step.ID, "error", err)
		}
	}
}
