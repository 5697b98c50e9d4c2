// Package web provides the HTTP surface of the authoring API: journey CRUD,
// lifecycle transitions, and run inspection.
package web

import "github.com/Jcateye/omini-channel/pkg/models"

// CreateJourneyRequest is the body for creating a journey. The journey is
// always created in draft status.
type CreateJourneyRequest struct {
	TenantID    string            `json:"tenant_id"   validate:"required"`
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Triggers    []*models.Trigger `json:"triggers"`
	Nodes       []*models.Node    `json:"nodes"`
	Edges       []*models.Edge    `json:"edges"`
}

// UpdateJourneyRequest replaces the journey definition. Status is changed
// through the lifecycle endpoints, not here.
type UpdateJourneyRequest struct {
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Triggers    []*models.Trigger `json:"triggers"`
	Nodes       []*models.Node    `json:"nodes"`
	Edges       []*models.Edge    `json:"edges"`
}

// IngestEventRequest is the body for the event ingestion endpoint. Type
// selects which platform event is published; the context is forwarded to the
// trigger activator as-is.
type IngestEventRequest struct {
	Type    string              `json:"type"    validate:"required,oneof=inbound_message tag_change stage_change"`
	Context models.EventContext `json:"context"`
}

// NodeTypeResponse describes one supported node type with its config schema.
type NodeTypeResponse struct {
	Type   models.NodeType `json:"type"`
	Schema map[string]any  `json:"schema"`
}

func (r CreateJourneyRequest) toModel() *models.Journey {
	return &models.Journey{
		TenantID:    r.TenantID,
		Name:        r.Name,
		Description: r.Description,
		Triggers:    r.Triggers,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
	}
}

func (r UpdateJourneyRequest) toModel() *models.Journey {
	return &models.Journey{
		Name:        r.Name,
		Description: r.Description,
		Triggers:    r.Triggers,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
	}
}
