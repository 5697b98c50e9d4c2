package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/persistence/postgresql"
	"github.com/Jcateye/omini-channel/pkg/testutil"
)

var postgresContainer *postgres.PostgresContainer

func dropDB(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Children first, parents last.
	tables := []string{
		"messages", "conversations", "contacts", "leads",
		"run_steps", "runs",
		"journey_edges", "journey_nodes", "journey_triggers", "journeys",
		"schema_migrations",
	}
	for _, table := range tables {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("omini_test"),
			postgres.WithUsername("omini"),
			postgres.WithPassword("omini"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDB(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDB(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx
}

func TestPostgres_JourneyRoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)

	fireAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	journey := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("A", models.NodeTypeSendMessage, map[string]any{"body": "hello"}),
			testutil.Node("B", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"welcomed"}}),
		},
		[]*models.Edge{testutil.Edge("A", "B", "")})
	journey.Triggers = append(journey.Triggers, &models.Trigger{
		ID:        uuid.New().String(),
		JourneyID: journey.ID,
		Type:      models.TriggerTypeTime,
		Enabled:   true,
		Schedule:  &models.TriggerSchedule{FireAt: &fireAt, LeadID: "lead-1"},
	})

	require.NoError(t, p.Journeys().Save(ctx, journey))

	stored, err := p.Journeys().GetByID(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, journey.Name, stored.Name)
	require.Len(t, stored.Nodes, 2)
	require.Len(t, stored.Edges, 1)
	require.Len(t, stored.Triggers, 2)

	node := stored.Node("A")
	require.NotNil(t, node)
	assert.Equal(t, "hello", node.Config["body"])

	var timed *models.Trigger

	for _, trigger := range stored.Triggers {
		if trigger.Type == models.TriggerTypeTime {
			timed = trigger
		}
	}

	require.NotNil(t, timed)
	require.NotNil(t, timed.Schedule)
	require.NotNil(t, timed.Schedule.FireAt)
	assert.True(t, timed.Schedule.FireAt.Equal(fireAt))
	assert.Equal(t, "lead-1", timed.Schedule.LeadID)

	// Re-saving replaces the graph instead of appending to it.
	journey.Nodes = journey.Nodes[:1]
	journey.Edges = nil
	require.NoError(t, p.Journeys().Save(ctx, journey))

	stored, err = p.Journeys().GetByID(ctx, journey.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 1)
	assert.Empty(t, stored.Edges)
}

func TestPostgres_JourneySoftDelete(t *testing.T) {
	p, ctx := setupTestDB(t)

	journey := testutil.Journey("tenant-1", nil, nil)
	require.NoError(t, p.Journeys().Save(ctx, journey))
	require.NoError(t, p.Journeys().Delete(ctx, journey.ID))

	_, err := p.Journeys().GetByID(ctx, journey.ID)
	assert.True(t, persistence.IsJourneyNotFound(err))

	journeys, err := p.Journeys().List(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, journeys)
}

func TestPostgres_UpdateTriggerLastFired(t *testing.T) {
	p, ctx := setupTestDB(t)

	journey := testutil.Journey("tenant-1", nil, nil)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	firedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.Journeys().UpdateTriggerLastFired(ctx, journey.Triggers[0].ID, firedAt))

	stored, err := p.Journeys().GetByID(ctx, journey.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Triggers[0].LastFiredAt)
	assert.True(t, stored.Triggers[0].LastFiredAt.Equal(firedAt))

	err = p.Journeys().UpdateTriggerLastFired(ctx, "missing", firedAt)
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestPostgres_ClaimStepIsAtomic(t *testing.T) {
	p, ctx := setupTestDB(t)

	journey := testutil.Journey("tenant-1", nil, nil)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	run := &models.Run{
		ID:        uuid.New().String(),
		TenantID:  "tenant-1",
		JourneyID: journey.ID,
		Status:    models.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Runs().CreateRun(ctx, run))

	step := &models.RunStep{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		NodeID:    "A",
		Status:    models.StepStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Runs().CreateStep(ctx, step))

	// Concurrent claims: exactly one wins.
	results := make(chan bool, 2)

	for range 2 {
		go func() {
			claimed, err := p.Runs().ClaimStep(ctx, step.ID)
			assert.NoError(t, err)
			results <- claimed
		}()
	}

	first := <-results
	second := <-results
	assert.True(t, first != second, "exactly one claim should win")

	stored, err := p.Runs().GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestPostgres_CloseRunIsWriteOnce(t *testing.T) {
	p, ctx := setupTestDB(t)

	journey := testutil.Journey("tenant-1", nil, nil)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	run := &models.Run{
		ID:        uuid.New().String(),
		TenantID:  "tenant-1",
		JourneyID: journey.ID,
		Status:    models.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Runs().CreateRun(ctx, run))

	require.NoError(t, p.Runs().CloseRun(ctx, run.ID, models.RunStatusFailed, "node exploded"))
	require.NoError(t, p.Runs().CloseRun(ctx, run.ID, models.RunStatusCompleted, ""))

	stored, err := p.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Equal(t, "node exploded", stored.Error)
}

func TestPostgres_ListDueStepsAndCountOpen(t *testing.T) {
	p, ctx := setupTestDB(t)

	journey := testutil.Journey("tenant-1", nil, nil)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	run := &models.Run{
		ID:        uuid.New().String(),
		TenantID:  "tenant-1",
		JourneyID: journey.ID,
		Status:    models.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Runs().CreateRun(ctx, run))

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	dueID := uuid.New().String()

	steps := []*models.RunStep{
		{ID: dueID, RunID: run.ID, NodeID: "A", Status: models.StepStatusPending, ScheduledFor: &past},
		{ID: uuid.New().String(), RunID: run.ID, NodeID: "B", Status: models.StepStatusPending, ScheduledFor: &future},
		{ID: uuid.New().String(), RunID: run.ID, NodeID: "C", Status: models.StepStatusCompleted},
	}
	for _, step := range steps {
		step.CreatedAt = now
		step.UpdatedAt = now
		require.NoError(t, p.Runs().CreateStep(ctx, step))
	}

	due, err := p.Runs().ListDueSteps(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, dueID, due[0].ID)

	open, err := p.Runs().CountOpenSteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, open)
}

func TestPostgres_LeadsAndSegments(t *testing.T) {
	p, ctx := setupTestDB(t)

	active := time.Now().UTC().Add(-time.Hour)

	vip := testutil.Lead("tenant-1", []string{"vip", "beta"}, "qualified")
	vip.LastActiveAt = &active
	other := testutil.Lead("tenant-1", []string{"beta"}, "new")
	other.LastActiveAt = &active

	require.NoError(t, p.Leads().SaveLead(ctx, vip))
	require.NoError(t, p.Leads().SaveLead(ctx, other))

	leads, err := p.Leads().FindBySegment(ctx, "tenant-1", models.SegmentFilter{
		TagsAll:          []string{"vip"},
		ActiveWithinDays: 7,
	})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, vip.ID, leads[0].ID)

	stage := "churned"
	tags := []string{"vip"}
	updated, err := p.Leads().UpdateLead(ctx, vip.ID, persistence.LeadUpdate{Tags: &tags, Stage: &stage})
	require.NoError(t, err)
	assert.Equal(t, "churned", updated.Stage)
	assert.Equal(t, []string{"vip"}, updated.Tags)
}

func TestPostgres_ConversationsAndMessages(t *testing.T) {
	p, ctx := setupTestDB(t)

	first, err := p.Conversations().EnsureConversation(ctx, "tenant-1", "channel-1", "+5511999990000")
	require.NoError(t, err)

	second, err := p.Conversations().EnsureConversation(ctx, "tenant-1", "channel-1", "+5511999990000")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	runID := uuid.New().String()

	message := &models.Message{
		ID:             uuid.New().String(),
		TenantID:       "tenant-1",
		ConversationID: first.ID,
		ChannelID:      "channel-1",
		Direction:      models.MessageDirectionOutbound,
		Body:           "hello",
		RunID:          runID,
		Status:         models.MessageStatusQueued,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, p.Conversations().CreateMessage(ctx, message))

	messages, err := p.Conversations().ListMessagesByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Body)
	assert.Equal(t, models.MessageDirectionOutbound, messages[0].Direction)
}
