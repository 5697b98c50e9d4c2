// Package persistence provides the storage abstraction for journeys, runs,
// leads, and conversations.
package persistence

import (
	"context"
	"time"

	"github.com/Jcateye/omini-channel/pkg/models"
)

type Persistence interface {
	Journeys() JourneyRepository
	Runs() RunRepository
	Leads() LeadRepository
	Conversations() ConversationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JourneyRepository stores journey definitions with their triggers, nodes,
// and edges.
type JourneyRepository interface {
	List(ctx context.Context, tenantID string) ([]*models.Journey, error)

	// ListActive returns the tenant's active journeys fully loaded. It is
	// called on every event so edits take effect immediately; callers must
	// not cache the result.
	ListActive(ctx context.Context, tenantID string) ([]*models.Journey, error)

	// ListActiveWithTimeTriggers returns, across all tenants, active
	// journeys that carry at least one enabled time trigger.
	ListActiveWithTimeTriggers(ctx context.Context) ([]*models.Journey, error)

	GetByID(ctx context.Context, id string) (*models.Journey, error)
	Save(ctx context.Context, journey *models.Journey) error
	Delete(ctx context.Context, id string) error

	// UpdateTriggerLastFired records when a time trigger last fired.
	UpdateTriggerLastFired(ctx context.Context, triggerID string, firedAt time.Time) error
}

// RunRepository stores runs and their steps.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)

	// CloseRun transitions a run to a terminal status. The write is
	// conditional on the run still being in running status; closing an
	// already-terminal run is a no-op.
	CloseRun(ctx context.Context, id string, status models.RunStatus, errMsg string) error

	ListRunsByJourney(ctx context.Context, journeyID string, limit, offset int) ([]*models.Run, int64, error)

	CreateStep(ctx context.Context, step *models.RunStep) error
	GetStep(ctx context.Context, id string) (*models.RunStep, error)

	// ClaimStep atomically transitions a step from pending to running and
	// increments its attempt counter. It returns false when the step is
	// not pending, which callers treat as a duplicate delivery no-op.
	ClaimStep(ctx context.Context, id string) (bool, error)

	UpdateStep(ctx context.Context, step *models.RunStep) error
	ListSteps(ctx context.Context, runID string) ([]*models.RunStep, error)

	// CountOpenSteps returns the number of steps still pending or running
	// for the run.
	CountOpenSteps(ctx context.Context, runID string) (int, error)

	// ListDueSteps returns pending steps whose scheduled_for has passed.
	// The scheduler sweeps these as a backstop against lost delayed jobs.
	ListDueSteps(ctx context.Context, before time.Time) ([]*models.RunStep, error)
}

// LeadUpdate carries the mutable lead fields a tag_update step may write.
// Nil fields are left untouched.
type LeadUpdate struct {
	Tags  *[]string
	Stage *string
}

// LeadRepository stores leads and contacts.
type LeadRepository interface {
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	SaveLead(ctx context.Context, lead *models.Lead) error
	UpdateLead(ctx context.Context, id string, update LeadUpdate) (*models.Lead, error)
	FindBySegment(ctx context.Context, tenantID string, segment models.SegmentFilter) ([]*models.Lead, error)

	GetContact(ctx context.Context, id string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
}

// ConversationRepository stores conversations and messages.
type ConversationRepository interface {
	// EnsureConversation returns the conversation for (channel, external
	// recipient id), creating it when absent.
	EnsureConversation(ctx context.Context, tenantID, channelID, externalID string) (*models.Conversation, error)

	CreateMessage(ctx context.Context, message *models.Message) error
	ListMessagesByRun(ctx context.Context, runID string) ([]*models.Message, error)
}
