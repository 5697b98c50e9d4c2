package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/persistence/file"
	"github.com/Jcateye/omini-channel/pkg/testutil"
)

func newJourneyService(t *testing.T) (*JourneyService, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return NewJourneyService(p), p
}

func draftJourney(nodes []*models.Node, edges []*models.Edge) *models.Journey {
	return &models.Journey{
		TenantID: "tenant-1",
		Name:     "welcome flow",
		Triggers: []*models.Trigger{
			{Type: models.TriggerTypeInboundMessage, Enabled: true},
		},
		Nodes: nodes,
		Edges: edges,
	}
}

func TestCreateJourney_StartsAsDraft(t *testing.T) {
	ctx := context.Background()
	service, p := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, map[string]any{"delayMs": float64(100)})},
		nil))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.JourneyStatusDraft, created.Status)
	require.Len(t, created.Triggers, 1)
	assert.NotEmpty(t, created.Triggers[0].ID)
	assert.Equal(t, created.ID, created.Triggers[0].JourneyID)

	stored, err := p.Journeys().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "welcome flow", stored.Name)
}

func TestCreateJourney_RejectsInvalidNodeConfig(t *testing.T) {
	service, _ := newJourneyService(t)

	// webhook requires a url
	_, err := service.CreateJourney(context.Background(), draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeWebhook, map[string]any{})},
		nil))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, ErrInvalidNodeConfig)
}

func TestCreateJourney_RejectsDanglingEdge(t *testing.T) {
	service, _ := newJourneyService(t)

	_, err := service.CreateJourney(context.Background(), draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		[]*models.Edge{testutil.Edge("A", "ghost", "")}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingEdge)
}

func TestCreateJourney_RejectsDuplicateNodeIDs(t *testing.T) {
	service, _ := newJourneyService(t)

	_, err := service.CreateJourney(context.Background(), draftJourney(
		[]*models.Node{
			testutil.Node("A", models.NodeTypeDelay, nil),
			testutil.Node("A", models.NodeTypeDelay, nil),
		},
		nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateJourney_RejectsTimeTriggerWithoutSchedule(t *testing.T) {
	service, _ := newJourneyService(t)

	j := draftJourney([]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)}, nil)
	j.Triggers = []*models.Trigger{{Type: models.TriggerTypeTime, Enabled: true}}

	_, err := service.CreateJourney(context.Background(), j)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestCreateJourney_Nil(t *testing.T) {
	service, _ := newJourneyService(t)

	_, err := service.CreateJourney(context.Background(), nil)
	assert.ErrorIs(t, err, ErrJourneyNil)
}

func TestSetStatus_ActivatesValidJourney(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		nil))
	require.NoError(t, err)

	activated, err := service.SetStatus(ctx, created.ID, models.JourneyStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusActive, activated.Status)
}

func TestSetStatus_ActivationRejectsCycle(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{
			testutil.Node("A", models.NodeTypeDelay, nil),
			testutil.Node("B", models.NodeTypeDelay, nil),
		},
		[]*models.Edge{
			testutil.Edge("A", "B", ""),
			testutil.Edge("B", "A", ""),
		}))
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.JourneyStatusActive)
	require.Error(t, err)
	// A and B are mutually reachable, so nothing is a start node; either
	// check may fire first.
	assert.True(t, IsValidationError(err))
}

func TestSetStatus_ActivationRequiresEnabledTrigger(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	j := draftJourney([]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)}, nil)
	j.Triggers[0].Enabled = false

	created, err := service.CreateJourney(ctx, j)
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.JourneyStatusActive)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTriggerRequired)
}

func TestSetStatus_ActivationRequiresNodes(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(nil, nil))
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.JourneyStatusActive)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodesRequired)
}

func TestSetStatus_ArchivedIsImmutable(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		nil))
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.JourneyStatusArchived)
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.JourneyStatusActive)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.ErrorIs(t, err, ErrArchivedImmutable)
}

func TestUpdateJourney_PreservesIdentityAndStatus(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		nil))
	require.NoError(t, err)

	update := draftJourney(
		[]*models.Node{testutil.Node("B", models.NodeTypeDelay, map[string]any{"delaySeconds": float64(5)})},
		nil)
	update.TenantID = "evil-tenant"
	update.Name = "renamed flow"
	update.Status = models.JourneyStatusActive

	updated, err := service.UpdateJourney(ctx, created.ID, update)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "tenant-1", updated.TenantID)
	assert.Equal(t, models.JourneyStatusDraft, updated.Status)
	assert.Equal(t, "renamed flow", updated.Name)
}

func TestUpdateJourney_ArchivedIsImmutable(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		nil))
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.JourneyStatusArchived)
	require.NoError(t, err)

	_, err = service.UpdateJourney(ctx, created.ID, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArchivedImmutable)
}

func TestUpdateJourney_ActiveMustStayLaunchable(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		nil))
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.JourneyStatusActive)
	require.NoError(t, err)

	// Removing every node would leave the active journey unlaunchable.
	_, err = service.UpdateJourney(ctx, created.ID, draftJourney(nil, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodesRequired)
}

func TestDeleteJourney_SoftDeletes(t *testing.T) {
	ctx := context.Background()
	service, _ := newJourneyService(t)

	created, err := service.CreateJourney(ctx, draftJourney(
		[]*models.Node{testutil.Node("A", models.NodeTypeDelay, nil)},
		nil))
	require.NoError(t, err)

	require.NoError(t, service.DeleteJourney(ctx, created.ID))

	_, err = service.GetJourney(ctx, created.ID)
	assert.True(t, persistence.IsJourneyNotFound(err))
}

func TestListJourneys_RequiresTenant(t *testing.T) {
	service, _ := newJourneyService(t)

	_, err := service.ListJourneys(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestRunService_ListRunsPaging(t *testing.T) {
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())
	service := NewRunService(p)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		run := &models.Run{
			ID:        "run-" + string(rune('a'+i)),
			JourneyID: "j-1",
			Status:    models.RunStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, p.Runs().CreateRun(ctx, run))
		require.NoError(t, p.Runs().CreateStep(ctx, &models.RunStep{
			ID:     run.ID + "-step",
			RunID:  run.ID,
			NodeID: "A",
			Status: models.StepStatusCompleted,
		}))
	}

	resp, err := service.ListRuns(ctx, ListRunsRequest{JourneyID: "j-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.TotalCount)
	assert.True(t, resp.HasNextPage)
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "run-c", resp.Runs[0].Run.ID)
	require.Len(t, resp.Runs[0].Steps, 1)

	resp, err = service.ListRuns(ctx, ListRunsRequest{JourneyID: "j-1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.False(t, resp.HasNextPage)
	require.Len(t, resp.Runs, 1)
}

func TestRunService_GetRunNotFound(t *testing.T) {
	service := NewRunService(file.NewPersistence(t.TempDir()))

	_, err := service.GetRun(context.Background(), "nope")
	assert.True(t, persistence.IsRunNotFound(err))
}
