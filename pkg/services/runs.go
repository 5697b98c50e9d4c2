package services

import (
	"context"
	"fmt"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

const (
	defaultRunPageSize = 20
	maxRunPageSize     = 100
)

// RunService answers run-inspection queries for the API.
type RunService struct {
	persistence persistence.Persistence
}

func NewRunService(p persistence.Persistence) *RunService {
	return &RunService{persistence: p}
}

// ListRunsRequest pages through a journey's runs, newest first.
type ListRunsRequest struct {
	JourneyID string
	Limit     int
	Offset    int
}

// RunWithSteps is one run plus its step history.
type RunWithSteps struct {
	Run   *models.Run       `json:"run"`
	Steps []*models.RunStep `json:"steps"`
}

// ListRunsResponse is a page of runs with pagination metadata.
type ListRunsResponse struct {
	Runs        []*RunWithSteps `json:"runs"`
	TotalCount  int64           `json:"total_count"`
	HasNextPage bool            `json:"has_next_page"`
}

// ListRuns returns a page of the journey's runs, each with its steps.
func (s *RunService) ListRuns(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error) {
	if req.JourneyID == "" {
		return nil, NewValidationError("ListRuns", "JOURNEY_REQUIRED",
			"journey id is required", ErrInvalidRequest)
	}

	if req.Limit <= 0 {
		req.Limit = defaultRunPageSize
	}

	if req.Limit > maxRunPageSize {
		req.Limit = maxRunPageSize
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	runs, total, err := s.persistence.Runs().ListRunsByJourney(ctx, req.JourneyID, req.Limit, req.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*RunWithSteps, 0, len(runs))

	for _, run := range runs {
		steps, err := s.persistence.Runs().ListSteps(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list steps for run %s: %w", run.ID, err)
		}

		out = append(out, &RunWithSteps{Run: run, Steps: steps})
	}

	return &ListRunsResponse{
		Runs:        out,
		TotalCount:  total,
		HasNextPage: int64(req.Offset+len(runs)) < total,
	}, nil
}

// GetRun returns one run with its steps.
func (s *RunService) GetRun(ctx context.Context, id string) (*RunWithSteps, error) {
	run, err := s.persistence.Runs().GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	steps, err := s.persistence.Runs().ListSteps(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	return &RunWithSteps{Run: run, Steps: steps}, nil
}

// ListRunMessages returns the messages a run produced through send_message
// steps.
func (s *RunService) ListRunMessages(ctx context.Context, runID string) ([]*models.Message, error) {
	return s.persistence.Conversations().ListMessagesByRun(ctx, runID)
}
