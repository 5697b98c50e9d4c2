package models

import "time"

// Lead is the CRM record journeys act on. Tags and Stage are mutated by
// tag_update steps and read by condition steps; concurrent runs over the same
// lead are last-write-wins.
type Lead struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone,omitempty"`
	ExternalID   string     `json:"external_id,omitempty"`
	ContactID    string     `json:"contact_id,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Stage        string     `json:"stage,omitempty"`
	Source       string     `json:"source,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasTag reports whether the lead carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// Contact is the messaging identity bound to a lead on some channel.
type Contact struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	LeadID     string    `json:"lead_id,omitempty"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recipient returns the deliverable address for the contact: phone number
// first, platform identifier otherwise. Empty means undeliverable.
func (c *Contact) Recipient() string {
	if c.Phone != "" {
		return c.Phone
	}

	return c.ExternalID
}

// Channel is a tenant-configured messaging channel (whatsapp, sms, ...).
type Channel struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Conversation groups messages exchanged with one recipient on one channel.
type Conversation struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ChannelID  string    `json:"channel_id"  validate:"required"`
	ExternalID string    `json:"external_id" validate:"required"`
	LeadID     string    `json:"lead_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageDirection distinguishes inbound from outbound messages.
type MessageDirection string

const (
	MessageDirectionInbound  MessageDirection = "inbound"
	MessageDirectionOutbound MessageDirection = "outbound"
)

// MessageStatus tracks a message through the delivery pipeline.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is one message record. RunID is set on messages produced by
// send_message steps so runs can be traced to their output.
type Message struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id"`
	ConversationID string           `json:"conversation_id"`
	ChannelID      string           `json:"channel_id"`
	Direction      MessageDirection `json:"direction"`
	Body           string           `json:"body"`
	RunID          string           `json:"run_id,omitempty"`
	Status         MessageStatus    `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}
