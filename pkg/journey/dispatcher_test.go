package journey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/persistence/file"
	"github.com/Jcateye/omini-channel/pkg/queue"
	"github.com/Jcateye/omini-channel/pkg/testutil"
)

// captureQueue records enqueued jobs instead of delivering them, so tests
// drive the dispatcher one hop at a time.
type captureQueue struct {
	mu   sync.Mutex
	jobs []capturedJob
}

type capturedJob struct {
	step queue.StepJob
	opts queue.Options
}

func (q *captureQueue) Enqueue(_ context.Context, jobType string, payload any, opts queue.Options) error {
	step, ok := payload.(queue.StepJob)
	if !ok {
		return nil
	}

	_ = jobType

	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, capturedJob{step: step, opts: opts})

	return nil
}

func (q *captureQueue) Handle(string, queue.Handler) {}

func (q *captureQueue) Subscribe(context.Context) error { return nil }

func (q *captureQueue) Close() error { return nil }

// pop removes and returns the oldest captured job.
func (q *captureQueue) pop(t *testing.T) capturedJob {
	t.Helper()

	q.mu.Lock()
	defer q.mu.Unlock()

	require.NotEmpty(t, q.jobs, "expected a queued job")

	job := q.jobs[0]
	q.jobs = q.jobs[1:]

	return job
}

func (q *captureQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.jobs)
}

type captureDelivery struct {
	mu         sync.Mutex
	messageIDs []string
}

func (d *captureDelivery) EnqueueOutbound(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.messageIDs = append(d.messageIDs, messageID)

	return nil
}

type engineHarness struct {
	persistence *file.Persistence
	queue       *captureQueue
	delivery    *captureDelivery
	launcher    *Launcher
	dispatcher  *Dispatcher
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	q := &captureQueue{}
	delivery := &captureDelivery{}
	logger := testutil.DiscardLogger()

	monitor := NewMonitor(p, nil, logger)

	return &engineHarness{
		persistence: p,
		queue:       q,
		delivery:    delivery,
		launcher:    NewLauncher(p, q, nil, logger, nil),
		dispatcher:  NewDispatcher(p, q, monitor, delivery, nil, logger, nil),
	}
}

// launch saves the journey and lead, launches a run, and returns the run.
func (h *engineHarness) launch(t *testing.T, j *models.Journey, lead *models.Lead) *models.Run {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, h.persistence.Journeys().Save(ctx, j))

	eventCtx := models.EventContext{TenantID: j.TenantID}

	if lead != nil {
		require.NoError(t, h.persistence.Leads().SaveLead(ctx, lead))

		eventCtx.LeadID = lead.ID
		eventCtx.Tags = lead.Tags
		eventCtx.Stage = lead.Stage
	}

	run, err := h.launcher.Launch(ctx, j, j.Triggers[0], eventCtx)
	require.NoError(t, err)
	require.NotNil(t, run)

	return run
}

// dispatch delivers one captured job to the dispatcher.
func (h *engineHarness) dispatch(t *testing.T, job capturedJob) error {
	t.Helper()

	payload, err := json.Marshal(job.step)
	require.NoError(t, err)

	return h.dispatcher.HandleStepJob(context.Background(), &queue.Job{
		ID:      "job-" + job.step.StepID,
		Type:    queue.StepExecuteJobType,
		Payload: payload,
		Attempt: 1,
	})
}

// drain dispatches captured jobs until the queue is empty.
func (h *engineHarness) drain(t *testing.T) {
	t.Helper()

	for h.queue.size() > 0 {
		require.NoError(t, h.dispatch(t, h.queue.pop(t)))
	}
}

func TestDispatcher_SendMessageStep(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("send", models.NodeTypeSendMessage, map[string]any{
				"channelId": "chan-1",
				"body":      "welcome!",
			}),
		},
		nil,
	)
	lead := testutil.Lead("tenant-1", []string{"vip"}, "new")
	run := h.launch(t, j, lead)

	require.NoError(t, h.dispatch(t, h.queue.pop(t)))

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.NotEmpty(t, steps[0].MessageID)

	messages, err := h.persistence.Conversations().ListMessagesByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "welcome!", messages[0].Body)
	assert.Equal(t, run.ID, messages[0].RunID)
	assert.Equal(t, models.MessageDirectionOutbound, messages[0].Direction)

	assert.Equal(t, []string{messages[0].ID}, h.delivery.messageIDs)

	// single node, so the run is complete
	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
}

func TestDispatcher_DuplicateDeliveryIsNoOp(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("send", models.NodeTypeSendMessage, map[string]any{
				"channelId": "chan-1",
				"body":      "hi",
			}),
		},
		nil,
	)
	run := h.launch(t, j, testutil.Lead("tenant-1", nil, ""))

	job := h.queue.pop(t)
	require.NoError(t, h.dispatch(t, job))
	require.NoError(t, h.dispatch(t, job))

	messages, err := h.persistence.Conversations().ListMessagesByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1, "redelivered job must not send a second message")

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Attempts)
}

func TestDispatcher_DelayStep(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("wait", models.NodeTypeDelay, map[string]any{"delayMinutes": float64(5)}),
			testutil.Node("next", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"waited"}}),
		},
		[]*models.Edge{testutil.Edge("wait", "next", "")},
	)
	lead := testutil.Lead("tenant-1", nil, "")
	run := h.launch(t, j, lead)

	require.NoError(t, h.dispatch(t, h.queue.pop(t)))

	continuation := h.queue.pop(t)
	assert.Equal(t, 5*time.Minute, continuation.opts.Delay)

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	for _, step := range steps {
		switch step.NodeID {
		case "wait":
			// The delay step itself completes immediately; only the
			// successor waits.
			assert.Equal(t, models.StepStatusCompleted, step.Status)
		case "next":
			assert.Equal(t, models.StepStatusPending, step.Status)
			require.NotNil(t, step.ScheduledFor)
			assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), *step.ScheduledFor, 10*time.Second)
		}
	}
}

func TestDispatcher_ConditionBranching(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("cond", models.NodeTypeCondition, map[string]any{"tagsAny": []any{"vip"}}),
			testutil.Node("yes", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"routed-vip"}}),
			testutil.Node("no", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"routed-regular"}}),
		},
		[]*models.Edge{
			testutil.Edge("cond", "yes", "true"),
			testutil.Edge("cond", "no", "false"),
		},
	)
	lead := testutil.Lead("tenant-1", []string{"vip"}, "new")
	run := h.launch(t, j, lead)

	h.drain(t)

	updatedLead, err := h.persistence.Leads().GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Contains(t, updatedLead.Tags, "routed-vip")
	assert.NotContains(t, updatedLead.Tags, "routed-regular")

	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, updated.Status)

	// only the condition step and the true branch executed
	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestDispatcher_ConditionSeesTagUpdates(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("mark", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"hot"}}),
			testutil.Node("cond", models.NodeTypeCondition, map[string]any{"tagsAny": []any{"hot"}}),
			testutil.Node("yes", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"routed-hot"}}),
			testutil.Node("no", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"routed-cold"}}),
		},
		[]*models.Edge{
			testutil.Edge("mark", "cond", ""),
			testutil.Edge("cond", "yes", "true"),
			testutil.Edge("cond", "no", "false"),
		},
	)

	// The lead is untagged at launch, so the snapshot alone would take
	// the false branch; the tag written by "mark" must flip it.
	lead := testutil.Lead("tenant-1", nil, "new")
	run := h.launch(t, j, lead)

	h.drain(t)

	updatedLead, err := h.persistence.Leads().GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Contains(t, updatedLead.Tags, "routed-hot")
	assert.NotContains(t, updatedLead.Tags, "routed-cold")

	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, updated.Status)
}

func TestDispatcher_ConditionWithoutLeadUsesLaunchSnapshot(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("cond", models.NodeTypeCondition, map[string]any{"stages": []any{"qualified"}}),
			testutil.Node("yes", models.NodeTypeDelay, map[string]any{"delaySeconds": float64(0)}),
			testutil.Node("no", models.NodeTypeDelay, map[string]any{"delaySeconds": float64(0)}),
		},
		[]*models.Edge{
			testutil.Edge("cond", "yes", "true"),
			testutil.Edge("cond", "no", "false"),
		},
	)
	require.NoError(t, h.persistence.Journeys().Save(ctx, j))

	run, err := h.launcher.Launch(ctx, j, j.Triggers[0], models.EventContext{
		TenantID: "tenant-1",
		Stage:    "qualified",
	})
	require.NoError(t, err)

	h.drain(t)

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)

	nodeIDs := make([]string, 0, len(steps))
	for _, step := range steps {
		nodeIDs = append(nodeIDs, step.NodeID)
	}

	assert.ElementsMatch(t, []string{"cond", "yes"}, nodeIDs)
}

func TestDispatcher_TagUpdateStep(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("tag", models.NodeTypeTagUpdate, map[string]any{
				"addTags":    []any{"c", "b"},
				"removeTags": []any{"a"},
				"stage":      "qualified",
			}),
		},
		nil,
	)
	lead := testutil.Lead("tenant-1", []string{"a", "b"}, "new")
	h.launch(t, j, lead)

	h.drain(t)

	updated, err := h.persistence.Leads().GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, updated.Tags)
	assert.Equal(t, "qualified", updated.Stage)
}

func TestDispatcher_TagUpdateWithoutLeadFailsRun(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("tag", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"x"}}),
		},
		nil,
	)
	run := h.launch(t, j, nil)

	err := h.dispatch(t, h.queue.pop(t))
	require.Error(t, err)

	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, updated.Status)
	assert.NotEmpty(t, updated.Error)

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
}

func TestDispatcher_WebhookStep(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)

		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("hook", models.NodeTypeWebhook, map[string]any{
				"url":     server.URL,
				"headers": map[string]any{"X-Api-Key": "secret"},
				"payload": map[string]any{"reason": "signup"},
			}),
		},
		nil,
	)
	lead := testutil.Lead("tenant-1", nil, "")
	run := h.launch(t, j, lead)

	h.drain(t)

	require.NotNil(t, received)
	assert.Equal(t, run.ID, received["run_id"])
	assert.Equal(t, lead.ID, received["lead_id"])
	assert.Equal(t, map[string]any{"reason": "signup"}, received["payload"])

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, float64(http.StatusOK), steps[0].Output["status_code"])
}

func TestDispatcher_WebhookNon2xxFailsStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("hook", models.NodeTypeWebhook, map[string]any{"url": server.URL}),
			testutil.Node("after", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"x"}}),
		},
		[]*models.Edge{testutil.Edge("hook", "after", "")},
	)
	run := h.launch(t, j, testutil.Lead("tenant-1", nil, ""))

	err := h.dispatch(t, h.queue.pop(t))
	require.Error(t, err)

	assert.Zero(t, h.queue.size(), "failed webhook must not traverse outgoing edges")

	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, updated.Status)

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
	assert.Equal(t, float64(http.StatusBadGateway), steps[0].Output["status_code"])
}

func TestDispatcher_ClosedRunDrainsAsNoOp(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("send", models.NodeTypeSendMessage, map[string]any{
				"channelId": "chan-1",
				"body":      "hi",
			}),
		},
		nil,
	)
	run := h.launch(t, j, testutil.Lead("tenant-1", nil, ""))

	require.NoError(t, h.persistence.Runs().CloseRun(ctx, run.ID, models.RunStatusFailed, "boom"))

	require.NoError(t, h.dispatch(t, h.queue.pop(t)))

	messages, err := h.persistence.Conversations().ListMessagesByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, messages, "steps of a closed run must not execute")
}

func TestDispatcher_EndToEnd(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("send", models.NodeTypeSendMessage, map[string]any{
				"channelId": "chan-1",
				"body":      "welcome",
			}),
			testutil.Node("wait", models.NodeTypeDelay, map[string]any{"delaySeconds": float64(30)}),
			testutil.Node("tag", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"onboarded"}}),
		},
		[]*models.Edge{
			testutil.Edge("send", "wait", ""),
			testutil.Edge("wait", "tag", ""),
		},
	)
	lead := testutil.Lead("tenant-1", nil, "new")
	run := h.launch(t, j, lead)

	h.drain(t)

	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, updated.Status)

	steps, err := h.persistence.Runs().ListSteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 3)

	for _, step := range steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
	}

	updatedLead, err := h.persistence.Leads().GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Contains(t, updatedLead.Tags, "onboarded")

	messages, err := h.persistence.Conversations().ListMessagesByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

// faultyPersistence wraps a real store and injects errors on run-store
// bookkeeping calls.
type faultyPersistence struct {
	persistence.Persistence
	runs *faultyRunRepository
}

func (p *faultyPersistence) Runs() persistence.RunRepository { return p.runs }

type faultyRunRepository struct {
	persistence.RunRepository
	updateStepErr error
	countErr      error
}

func (r *faultyRunRepository) UpdateStep(ctx context.Context, step *models.RunStep) error {
	if r.updateStepErr != nil {
		return r.updateStepErr
	}

	return r.RunRepository.UpdateStep(ctx, step)
}

func (r *faultyRunRepository) CountOpenSteps(ctx context.Context, runID string) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}

	return r.RunRepository.CountOpenSteps(ctx, runID)
}

// faultyDispatcher builds a second dispatcher over the harness store with
// the given run-repository faults injected.
func (h *engineHarness) faultyDispatcher(runs *faultyRunRepository) *Dispatcher {
	runs.RunRepository = h.persistence.Runs()
	faulty := &faultyPersistence{Persistence: h.persistence, runs: runs}
	logger := testutil.DiscardLogger()

	return NewDispatcher(faulty, h.queue, NewMonitor(faulty, nil, logger), h.delivery, nil, logger, nil)
}

func TestDispatcher_StepUpdateFailureAfterSuccessClosesRun(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("send", models.NodeTypeSendMessage, map[string]any{
				"channelId": "chan-1",
				"body":      "hi",
			}),
		},
		nil,
	)
	run := h.launch(t, j, testutil.Lead("tenant-1", nil, ""))

	dispatcher := h.faultyDispatcher(&faultyRunRepository{updateStepErr: errors.New("store unavailable")})

	job := h.queue.pop(t)
	payload, err := json.Marshal(job.step)
	require.NoError(t, err)

	err = dispatcher.HandleStepJob(ctx, &queue.Job{
		ID:      "job-" + job.step.StepID,
		Type:    queue.StepExecuteJobType,
		Payload: payload,
		Attempt: 1,
	})
	require.Error(t, err)

	// The node executed but its completion could not be recorded; the
	// run must close rather than sit running with a claimed step that
	// redeliveries and the due-step sweep both skip.
	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, updated.Status)
	assert.NotEmpty(t, updated.Error)
}

func TestDispatcher_CompletionCheckFailureClosesRun(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	j := testutil.Journey("tenant-1",
		[]*models.Node{
			testutil.Node("tag", models.NodeTypeTagUpdate, map[string]any{"addTags": []any{"x"}}),
		},
		nil,
	)
	run := h.launch(t, j, testutil.Lead("tenant-1", nil, ""))

	dispatcher := h.faultyDispatcher(&faultyRunRepository{countErr: errors.New("store unavailable")})

	job := h.queue.pop(t)
	payload, err := json.Marshal(job.step)
	require.NoError(t, err)

	err = dispatcher.HandleStepJob(ctx, &queue.Job{
		ID:      "job-" + job.step.StepID,
		Type:    queue.StepExecuteJobType,
		Payload: payload,
		Attempt: 1,
	})
	require.Error(t, err)

	updated, err := h.persistence.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, updated.Status)
}
