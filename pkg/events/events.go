// Package events defines the business events flowing through the platform:
// inbound activity that can match journey triggers, and run lifecycle
// notifications emitted by the engine.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Jcateye/omini-channel/pkg/models"
)

type EventType string

// Topic carries every platform event.
const Topic = "omini.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound activity events, consumed by the trigger activator.
	InboundMessageReceivedEvent EventType = "inbound.message.received"
	LeadTagsChangedEvent        EventType = "lead.tags.changed"
	LeadStageChangedEvent       EventType = "lead.stage.changed"
	TimeTriggerFiredEvent       EventType = "time.trigger.fired"

	// Run lifecycle events, emitted by the engine for external observers.
	RunStartedEvent    EventType = "run.started"
	RunCompletedEvent  EventType = "run.completed"
	RunFailedEvent     EventType = "run.failed"
	StepCompletedEvent EventType = "run.step.completed"
	StepFailedEvent    EventType = "run.step.failed"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

// InboundMessageReceived is published when a message arrives on any channel.
type InboundMessageReceived struct {
	BaseEvent

	Context models.EventContext `json:"context"`
}

func (e InboundMessageReceived) GetType() EventType {
	return InboundMessageReceivedEvent
}

// LeadTagsChanged is published after a lead's tag set changes, carrying the
// tags as they are after the change.
type LeadTagsChanged struct {
	BaseEvent

	Context models.EventContext `json:"context"`
	Added   []string            `json:"added,omitempty"`
	Removed []string            `json:"removed,omitempty"`
}

func (e LeadTagsChanged) GetType() EventType {
	return LeadTagsChangedEvent
}

// LeadStageChanged is published after a lead moves to a new pipeline stage.
type LeadStageChanged struct {
	BaseEvent

	Context       models.EventContext `json:"context"`
	PreviousStage string              `json:"previous_stage,omitempty"`
}

func (e LeadStageChanged) GetType() EventType {
	return LeadStageChangedEvent
}

// TimeTriggerFired is the synthetic event the scheduler emits for each lead
// resolved by a due time trigger. It is routed through the same activator
// path as live events.
type TimeTriggerFired struct {
	BaseEvent

	JourneyID string              `json:"journey_id"`
	TriggerID string              `json:"trigger_id"`
	Context   models.EventContext `json:"context"`
}

func (e TimeTriggerFired) GetType() EventType {
	return TimeTriggerFiredEvent
}

// Run lifecycle events.

type RunStarted struct {
	BaseEvent

	RunID       string             `json:"run_id"`
	JourneyID   string             `json:"journey_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
	LeadID      string             `json:"lead_id,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID     string `json:"run_id"`
	JourneyID string `json:"journey_id"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID     string `json:"run_id"`
	JourneyID string `json:"journey_id"`
	Error     string `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type StepCompleted struct {
	BaseEvent

	RunID  string         `json:"run_id"`
	StepID string         `json:"step_id"`
	NodeID string         `json:"node_id"`
	Output map[string]any `json:"output,omitempty"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	RunID  string `json:"run_id"`
	StepID string `json:"step_id"`
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}
