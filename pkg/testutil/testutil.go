// Package testutil provides shared builders for tests: quiet loggers and
// minimal journey graph fixtures.
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Jcateye/omini-channel/pkg/models"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Journey builds an active journey with an enabled inbound-message trigger
// and the given graph.
func Journey(tenantID string, nodes []*models.Node, edges []*models.Edge) *models.Journey {
	id := uuid.New().String()
	now := time.Now().UTC()

	return &models.Journey{
		ID:       id,
		TenantID: tenantID,
		Name:     "test journey",
		Status:   models.JourneyStatusActive,
		Triggers: []*models.Trigger{
			{
				ID:        uuid.New().String(),
				JourneyID: id,
				Type:      models.TriggerTypeInboundMessage,
				Enabled:   true,
			},
		},
		Nodes:     nodes,
		Edges:     edges,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Node builds a journey node.
func Node(id string, nodeType models.NodeType, config map[string]any) *models.Node {
	return &models.Node{
		ID:     id,
		Type:   nodeType,
		Label:  id,
		Config: config,
	}
}

// Edge builds a directed edge, optionally labeled.
func Edge(from, to, label string) *models.Edge {
	return &models.Edge{
		ID:         uuid.New().String(),
		FromNodeID: from,
		ToNodeID:   to,
		Label:      label,
	}
}

// Lead builds a lead with tags and a stage.
func Lead(tenantID string, tags []string, stage string) *models.Lead {
	now := time.Now().UTC()

	return &models.Lead{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      "test lead",
		Phone:     "+5511999990000",
		Tags:      tags,
		Stage:     stage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
