package models

import "time"

// RunStatus represents the lifecycle state of a journey run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one execution instance of a journey, created when a trigger matches.
type Run struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	JourneyID   string       `json:"journey_id" validate:"required"`
	LeadID      string       `json:"lead_id,omitempty"`
	ContactID   string       `json:"contact_id,omitempty"`
	ChannelID   string       `json:"channel_id,omitempty"`
	TriggerType TriggerType  `json:"trigger_type"`
	Context     EventContext `json:"context"`
	Status      RunStatus    `json:"status"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// StepStatus represents the lifecycle state of a run step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// RunStep is one node-visit within a run and the unit of queued work. A step
// is executed by at most one successful dispatch; redelivered jobs that find
// the step past pending are no-ops.
type RunStep struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"  validate:"required"`
	NodeID       string         `json:"node_id" validate:"required"`
	Status       StepStatus     `json:"status"`
	Attempts     int            `json:"attempts"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
