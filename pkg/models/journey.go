// Package models defines the core domain models for journey automation.
package models

import "time"

// JourneyStatus represents the lifecycle state of a journey.
type JourneyStatus string

const (
	JourneyStatusDraft    JourneyStatus = "draft"    // Editable, never executes
	JourneyStatusActive   JourneyStatus = "active"   // May start new runs
	JourneyStatusPaused   JourneyStatus = "paused"   // No new runs; in-flight runs keep going
	JourneyStatusArchived JourneyStatus = "archived" // Historical, read-only
)

// Journey represents a tenant-authored workflow graph of nodes and edges.
type Journey struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"   validate:"required"`
	Name        string        `json:"name"        validate:"required,min=3"`
	Description string        `json:"description"`
	Status      JourneyStatus `json:"status"      validate:"required"`
	Triggers    []*Trigger    `json:"triggers"`
	Nodes       []*Node       `json:"nodes"`
	Edges       []*Edge       `json:"edges"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	DeletedAt   *time.Time    `json:"deleted_at,omitempty"`
}

// IsActive reports whether the journey may start new runs.
func (j *Journey) IsActive() bool {
	return j.Status == JourneyStatusActive
}

// Node returns the node with the given ID, or nil.
func (j *Journey) Node(id string) *Node {
	for _, n := range j.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// NodeType identifies the behavior of a journey node.
type NodeType string

const (
	NodeTypeSendMessage NodeType = "send_message"
	NodeTypeDelay       NodeType = "delay"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeTagUpdate   NodeType = "tag_update"
	NodeTypeWebhook     NodeType = "webhook"
)

// NodeTypes lists every supported node type.
func NodeTypes() []NodeType {
	return []NodeType{
		NodeTypeSendMessage,
		NodeTypeDelay,
		NodeTypeCondition,
		NodeTypeTagUpdate,
		NodeTypeWebhook,
	}
}

// Node represents one step definition in a journey graph. Config is a
// type-specific key/value map validated against the node type's schema at
// authoring time. Position fields are presentational only.
type Node struct {
	ID        string         `json:"id"         validate:"required"`
	JourneyID string         `json:"journey_id"`
	Type      NodeType       `json:"type"       validate:"required"`
	Label     string         `json:"label"`
	Config    map[string]any `json:"config"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
}

// Edge is a directed arc between two nodes of the same journey. The label is
// only meaningful on edges leaving a condition node, where "true"/"false"
// selects the branch.
type Edge struct {
	ID         string `json:"id"`
	JourneyID  string `json:"journey_id"`
	FromNodeID string `json:"from_node_id" validate:"required"`
	ToNodeID   string `json:"to_node_id"   validate:"required"`
	Label      string `json:"label,omitempty"`
}
