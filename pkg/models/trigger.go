package models

import "time"

// TriggerType identifies which business event a trigger reacts to.
type TriggerType string

const (
	TriggerTypeInboundMessage TriggerType = "inbound_message"
	TriggerTypeTagChange      TriggerType = "tag_change"
	TriggerTypeStageChange    TriggerType = "stage_change"
	TriggerTypeTime           TriggerType = "time"
)

// Trigger starts runs of its journey when a matching event arrives.
type Trigger struct {
	ID          string           `json:"id"`
	JourneyID   string           `json:"journey_id"`
	Type        TriggerType      `json:"type"    validate:"required"`
	Enabled     bool             `json:"enabled"`
	Filter      TriggerFilter    `json:"filter"`
	Schedule    *TriggerSchedule `json:"schedule,omitempty"`
	LastFiredAt *time.Time       `json:"last_fired_at,omitempty"`
}

// TriggerFilter holds the matching rules evaluated against an event context.
// Every rule is optional; an absent rule passes. Rules combine with AND.
type TriggerFilter struct {
	Stages       []string `json:"stages,omitempty"`
	TagsAny      []string `json:"tags_any,omitempty"`
	TagsAll      []string `json:"tags_all,omitempty"`
	TextIncludes []string `json:"text_includes,omitempty"`
}

// IsZero reports whether no rule is configured.
func (f TriggerFilter) IsZero() bool {
	return len(f.Stages) == 0 && len(f.TagsAny) == 0 &&
		len(f.TagsAll) == 0 && len(f.TextIncludes) == 0
}

// TriggerSchedule configures a time trigger: either a one-shot timestamp or
// a recurring cron expression, plus a target lead or segment.
type TriggerSchedule struct {
	FireAt  *time.Time     `json:"fire_at,omitempty"`
	Cron    string         `json:"cron,omitempty"`
	LeadID  string         `json:"lead_id,omitempty"`
	Segment *SegmentFilter `json:"segment,omitempty"`
}

// SegmentFilter selects a set of leads for a time trigger.
type SegmentFilter struct {
	Stages           []string `json:"stages,omitempty"`
	TagsAll          []string `json:"tags_all,omitempty"`
	Sources          []string `json:"sources,omitempty"`
	ActiveWithinDays int      `json:"active_within_days,omitempty"`
}

// EventContext is the trigger-relevant snapshot of an event: the lead's tags
// and stage at the moment the event happened, the free text of an inbound
// message if any, and the identifiers needed by later steps. Runs capture it
// at launch so steps never re-read mutable lead state for trigger context.
type EventContext struct {
	TenantID       string   `json:"tenant_id"`
	LeadID         string   `json:"lead_id,omitempty"`
	ContactID      string   `json:"contact_id,omitempty"`
	ChannelID      string   `json:"channel_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Stage          string   `json:"stage,omitempty"`
	Text           string   `json:"text,omitempty"`
}
