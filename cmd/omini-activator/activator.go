package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jcateye/omini-channel/pkg/eventbus"
	"github.com/Jcateye/omini-channel/pkg/events"
	"github.com/Jcateye/omini-channel/pkg/journey"
	"github.com/Jcateye/omini-channel/pkg/models"
)

// Activator routes platform events into the run launcher. Live events go
// through trigger matching; time-trigger events were already resolved by the
// scheduler and launch directly.
type Activator struct {
	id       string
	eventBus eventbus.EventBus
	launcher *journey.Launcher
	logger   *slog.Logger
}

func NewActivator(id string, eventBus eventbus.EventBus, launcher *journey.Launcher, logger *slog.Logger) *Activator {
	return &Activator{
		id:       id,
		eventBus: eventBus,
		launcher: launcher,
		logger:   logger.With("module", "activator"),
	}
}

// Start registers the event handlers and blocks until a shutdown signal.
func (a *Activator) Start(ctx context.Context) error {
	aCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := a.registerHandlers()
	if err != nil {
		return err
	}

	err = a.eventBus.Subscribe(aCtx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	a.logger.InfoContext(ctx, "Activator started")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	<-signals
	a.logger.InfoContext(ctx, "Shutting down activator")
	cancel()

	return nil
}

func (a *Activator) registerHandlers() error {
	err := a.eventBus.Handle(events.InboundMessageReceivedEvent, a.handleInboundMessage)
	if err != nil {
		return fmt.Errorf("failed to register inbound message handler: %w", err)
	}

	err = a.eventBus.Handle(events.LeadTagsChangedEvent, a.handleTagsChanged)
	if err != nil {
		return fmt.Errorf("failed to register tag change handler: %w", err)
	}

	err = a.eventBus.Handle(events.LeadStageChangedEvent, a.handleStageChanged)
	if err != nil {
		return fmt.Errorf("failed to register stage change handler: %w", err)
	}

	err = a.eventBus.Handle(events.TimeTriggerFiredEvent, a.handleTimeTrigger)
	if err != nil {
		return fmt.Errorf("failed to register time trigger handler: %w", err)
	}

	return nil
}

func (a *Activator) handleInboundMessage(ctx context.Context, event any) error {
	received, ok := event.(*events.InboundMessageReceived)
	if !ok {
		a.logger.WarnContext(ctx, "Unexpected event payload for inbound message")

		return nil
	}

	return a.launcher.HandleEvent(ctx, models.TriggerTypeInboundMessage, received.Context)
}

func (a *Activator) handleTagsChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.LeadTagsChanged)
	if !ok {
		a.logger.WarnContext(ctx, "Unexpected event payload for tag change")

		return nil
	}

	return a.launcher.HandleEvent(ctx, models.TriggerTypeTagChange, changed.Context)
}

func (a *Activator) handleStageChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.LeadStageChanged)
	if !ok {
		a.logger.WarnContext(ctx, "Unexpected event payload for stage change")

		return nil
	}

	return a.launcher.HandleEvent(ctx, models.TriggerTypeStageChange, changed.Context)
}

func (a *Activator) handleTimeTrigger(ctx context.Context, event any) error {
	fired, ok := event.(*events.TimeTriggerFired)
	if !ok {
		a.logger.WarnContext(ctx, "Unexpected event payload for time trigger")

		return nil
	}

	_, err := a.launcher.LaunchByTrigger(ctx, fired.JourneyID, fired.TriggerID, fired.Context)

	return err
}
