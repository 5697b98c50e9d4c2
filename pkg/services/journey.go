package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Jcateye/omini-channel/pkg/journey"
	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/schemas"
)

// ErrJourneyNotFound is re-exported so web handlers need only this package.
var ErrJourneyNotFound = persistence.ErrJourneyNotFound

// JourneyService implements journey authoring: CRUD plus the lifecycle
// transitions draft -> active -> paused -> archived.
type JourneyService struct {
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewJourneyService(p persistence.Persistence) *JourneyService {
	return &JourneyService{
		persistence: p,
		validator:   validator.New(),
	}
}

// HealthCheck reports whether the persistence layer is reachable.
func (s *JourneyService) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListJourneys returns all journeys of a tenant.
func (s *JourneyService) ListJourneys(ctx context.Context, tenantID string) ([]*models.Journey, error) {
	if tenantID == "" {
		return nil, NewValidationError("ListJourneys", "TENANT_REQUIRED",
			"tenant id is required", ErrTenantRequired)
	}

	journeys, err := s.persistence.Journeys().List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}

	return journeys, nil
}

// GetJourney returns one journey with its triggers, nodes, and edges.
func (s *JourneyService) GetJourney(ctx context.Context, id string) (*models.Journey, error) {
	return s.persistence.Journeys().GetByID(ctx, id)
}

// CreateJourney stores a new journey in draft status. Node configs are
// validated against their type schemas even in draft, so authoring errors
// surface immediately.
func (s *JourneyService) CreateJourney(ctx context.Context, j *models.Journey) (*models.Journey, error) {
	if j == nil {
		return nil, NewValidationError("CreateJourney", "JOURNEY_NIL", "", ErrJourneyNil)
	}

	j.ID = uuid.New().String()
	j.Status = models.JourneyStatusDraft

	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	assignGraphIDs(j)

	err := s.validateJourney(j)
	if err != nil {
		return nil, err
	}

	err = s.persistence.Journeys().Save(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	return j, nil
}

// UpdateJourney replaces the journey's definition. Archived journeys are
// immutable.
func (s *JourneyService) UpdateJourney(ctx context.Context, id string, j *models.Journey) (*models.Journey, error) {
	if j == nil {
		return nil, NewValidationError("UpdateJourney", "JOURNEY_NIL", "", ErrJourneyNil)
	}

	existing, err := s.persistence.Journeys().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.JourneyStatusArchived {
		return nil, NewValidationError("UpdateJourney", "ARCHIVED_IMMUTABLE",
			"archived journeys cannot be modified", ErrArchivedImmutable)
	}

	j.ID = existing.ID
	j.TenantID = existing.TenantID
	j.Status = existing.Status
	j.CreatedAt = existing.CreatedAt
	j.UpdatedAt = time.Now().UTC()

	assignGraphIDs(j)

	err = s.validateJourney(j)
	if err != nil {
		return nil, err
	}

	// An active journey must stay launchable after the edit.
	if j.Status == models.JourneyStatusActive {
		err = s.validateForActivation(j)
		if err != nil {
			return nil, err
		}
	}

	err = s.persistence.Journeys().Save(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	return j, nil
}

// DeleteJourney soft-deletes a journey. Runs already in flight are not
// touched.
func (s *JourneyService) DeleteJourney(ctx context.Context, id string) error {
	return s.persistence.Journeys().Delete(ctx, id)
}

// SetStatus transitions the journey lifecycle. Activation runs the full
// graph validation; pausing and archiving do not.
func (s *JourneyService) SetStatus(ctx context.Context, id string, status models.JourneyStatus) (*models.Journey, error) {
	j, err := s.persistence.Journeys().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if j.Status == models.JourneyStatusArchived {
		return nil, NewValidationError("SetStatus", "ARCHIVED_IMMUTABLE",
			"archived journeys cannot be modified", ErrArchivedImmutable)
	}

	if status == models.JourneyStatusActive {
		err = s.validateForActivation(j)
		if err != nil {
			return nil, err
		}
	}

	j.Status = status
	j.UpdatedAt = time.Now().UTC()

	err = s.persistence.Journeys().Save(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	return j, nil
}

// validateJourney checks structural integrity: model tags, node types and
// configs, edge endpoints, trigger schedules.
func (s *JourneyService) validateJourney(j *models.Journey) error {
	err := s.validator.Struct(j)
	if err != nil {
		return NewValidationError("validateJourney", "INVALID_JOURNEY", err.Error(), ErrInvalidRequest)
	}

	nodeIDs := make(map[string]struct{}, len(j.Nodes))

	for _, node := range j.Nodes {
		if _, dup := nodeIDs[node.ID]; dup {
			return NewValidationError("validateJourney", "DUPLICATE_NODE_ID",
				fmt.Sprintf("node id %q is not unique", node.ID), ErrInvalidRequest)
		}

		nodeIDs[node.ID] = struct{}{}

		err = schemas.ValidateNodeConfig(node.Type, node.Config)
		if err != nil {
			return NewValidationError("validateJourney", "INVALID_NODE_CONFIG",
				fmt.Sprintf("node %q: %v", node.ID, err), ErrInvalidNodeConfig)
		}
	}

	for _, edge := range j.Edges {
		_, fromOK := nodeIDs[edge.FromNodeID]
		_, toOK := nodeIDs[edge.ToNodeID]

		if !fromOK || !toOK {
			return NewValidationError("validateJourney", "DANGLING_EDGE",
				fmt.Sprintf("edge %s -> %s references an unknown node", edge.FromNodeID, edge.ToNodeID),
				ErrDanglingEdge)
		}
	}

	for _, trigger := range j.Triggers {
		if trigger.Type != models.TriggerTypeTime {
			continue
		}

		if trigger.Schedule == nil || (trigger.Schedule.FireAt == nil && trigger.Schedule.Cron == "") {
			return NewValidationError("validateJourney", "INVALID_SCHEDULE",
				fmt.Sprintf("time trigger %q has no schedule", trigger.ID), ErrInvalidSchedule)
		}
	}

	return nil
}

// validateForActivation ensures a journey can actually launch and finish
// runs before it goes live.
func (s *JourneyService) validateForActivation(j *models.Journey) error {
	if j.Name == "" {
		return NewValidationError("validateForActivation", "NAME_REQUIRED", "", ErrJourneyNameRequired)
	}

	if len(j.Nodes) == 0 {
		return NewValidationError("validateForActivation", "NODES_REQUIRED", "", ErrNodesRequired)
	}

	var hasTrigger bool

	for _, trigger := range j.Triggers {
		if trigger.Enabled {
			hasTrigger = true

			break
		}
	}

	if !hasTrigger {
		return NewValidationError("validateForActivation", "TRIGGER_REQUIRED", "", ErrTriggerRequired)
	}

	graph := journey.NewGraph(j)

	if len(graph.StartNodes()) == 0 {
		return NewValidationError("validateForActivation", "NO_START_NODE", "", ErrNoStartNode)
	}

	if graph.HasCycle() {
		return NewValidationError("validateForActivation", "GRAPH_CYCLE", "", ErrGraphCycle)
	}

	return nil
}

// assignGraphIDs fills in missing trigger/edge identifiers and stamps the
// owning journey id on every graph element.
func assignGraphIDs(j *models.Journey) {
	for _, trigger := range j.Triggers {
		if trigger.ID == "" {
			trigger.ID = uuid.New().String()
		}

		trigger.JourneyID = j.ID
	}

	for _, node := range j.Nodes {
		node.JourneyID = j.ID
	}

	for _, edge := range j.Edges {
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}

		edge.JourneyID = j.ID
	}
}
