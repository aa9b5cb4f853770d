package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scoutline/leadharvest/internal/control"
	"github.com/scoutline/leadharvest/internal/credentials"
	"github.com/scoutline/leadharvest/internal/model"
	"github.com/scoutline/leadharvest/internal/notify"
	"github.com/scoutline/leadharvest/internal/store"
	"github.com/scoutline/leadharvest/pkg/apify"
)

const (
	testDiscoveryActor = "acme~post-scraper"
	testHarvestActor   = "acme~comment-scraper"
	testEnrichActor    = "acme~profile-scraper"

	// statusLost scripts a run that starts but then vanishes: every poll
	// answers 404, so waiting on it fails without the context dying.
	statusLost = "LOST"
)

// actorCall records one StartRun against the fake task service.
type actorCall struct {
	Token string
	Input map[string]any
}

// actorHandler scripts one actor: it returns the dataset items, the terminal
// run status, and an optional StartRun error.
type actorHandler func(call actorCall) (items []json.RawMessage, status string, err error)

// fakeTasks is an in-memory task service. Each StartRun consults the actor's
// handler immediately and parks the result behind a runID, so WaitForRun
// observes a terminal status on its first poll.
type fakeTasks struct {
	mu       sync.Mutex
	handlers map[string]actorHandler
	runs     map[string]*apify.Run
	datasets map[string][]json.RawMessage
	calls    map[string][]actorCall
	aborted  []string
	nextID   int
}

var _ apify.Client = (*fakeTasks)(nil)

func newFakeTasks() *fakeTasks {
	return &fakeTasks{
		handlers: make(map[string]actorHandler),
		runs:     make(map[string]*apify.Run),
		datasets: make(map[string][]json.RawMessage),
		calls:    make(map[string][]actorCall),
	}
}

func (f *fakeTasks) handle(actorID string, h actorHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[actorID] = h
}

// respond scripts an actor to always succeed with the given items.
func (f *fakeTasks) respond(actorID string, items ...json.RawMessage) {
	f.handle(actorID, func(actorCall) ([]json.RawMessage, string, error) {
		return items, apify.StatusSucceeded, nil
	})
}

func (f *fakeTasks) StartRun(ctx context.Context, token string, req apify.RunRequest) (*apify.Run, error) {
	f.mu.Lock()
	handler := f.handlers[req.ActorID]
	f.mu.Unlock()

	call := actorCall{Token: token}
	if m, ok := req.Input.(map[string]any); ok {
		call.Input = m
	}

	var (
		items  []json.RawMessage
		status = apify.StatusSucceeded
		err    error
	)
	if handler != nil {
		items, status, err = handler(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.ActorID] = append(f.calls[req.ActorID], call)
	if err != nil {
		return nil, err
	}

	f.nextID++
	runID := fmt.Sprintf("run-%d", f.nextID)
	datasetID := fmt.Sprintf("ds-%d", f.nextID)
	if status == statusLost {
		return &apify.Run{ID: runID, ActorID: req.ActorID, Status: apify.StatusRunning, DefaultDatasetID: datasetID}, nil
	}
	f.runs[runID] = &apify.Run{
		ID:               runID,
		ActorID:          req.ActorID,
		Status:           status,
		DefaultDatasetID: datasetID,
	}
	f.datasets[datasetID] = items
	return &apify.Run{ID: runID, ActorID: req.ActorID, Status: apify.StatusRunning, DefaultDatasetID: datasetID}, nil
}

func (f *fakeTasks) GetRun(ctx context.Context, token, runID string) (*apify.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, &apify.APIError{StatusCode: 404, Body: "run not found"}
	}
	copied := *run
	return &copied, nil
}

func (f *fakeTasks) DatasetItems(ctx context.Context, token, datasetID string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.datasets[datasetID], nil
}

func (f *fakeTasks) AbortRun(ctx context.Context, token, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, runID)
	return nil
}

func (f *fakeTasks) callCount(actorID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[actorID])
}

func (f *fakeTasks) abortedRuns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborted...)
}

// stubQualifier answers verdicts from a function, defaulting to "Qualified".
type stubQualifier struct {
	mu    sync.Mutex
	fn    func(bio, prompt string) (string, error)
	calls int
}

func (q *stubQualifier) Qualify(ctx context.Context, bio, prompt string) (string, error) {
	q.mu.Lock()
	q.calls++
	fn := q.fn
	q.mu.Unlock()
	if fn == nil {
		return "Qualified", nil
	}
	return fn(bio, prompt)
}

func (q *stubQualifier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// testEnv wires a pipeline against a real SQLite store and the fakes.
type testEnv struct {
	store     *store.SQLiteStore
	tasks     *fakeTasks
	registry  *control.Registry
	qualifier *stubQualifier
	pipe      *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		store:     st,
		tasks:     newFakeTasks(),
		registry:  control.NewRegistry(),
		qualifier: &stubQualifier{},
	}
	env.pipe = New(st, env.tasks, credentials.NewPool(st, 3), env.qualifier, env.registry, notify.Noop{}, Config{
		DiscoveryActor:  testDiscoveryActor,
		HarvestActor:    testHarvestActor,
		EnrichActor:     testEnrichActor,
		EnrichBatchSize: 10,
		PersistEvery:    2,
		PollOptions:     []apify.PollOption{apify.WithPollInterval(time.Millisecond)},
	})

	require.NoError(t, st.CreateCredential(ctx, &model.CredentialToken{OwnerID: "owner-1", Value: "token-a"}))
	require.NoError(t, st.CreateCredential(ctx, &model.CredentialToken{OwnerID: "owner-1", Value: "token-b"}))
	return env
}

func (e *testEnv) createJob(t *testing.T, cfg model.JobConfig) *model.Job {
	t.Helper()
	job := &model.Job{OwnerID: "owner-1", Config: cfg}
	require.NoError(t, e.store.CreateJob(context.Background(), job))
	return job
}

func (e *testEnv) reload(t *testing.T, jobID string) *model.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func postJSON(t *testing.T, shortCode, url string, commentCount int) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":            "post-" + shortCode,
		"shortCode":     shortCode,
		"url":           url,
		"commentsCount": commentCount,
	})
	require.NoError(t, err)
	return raw
}

func commentJSON(t *testing.T, id, username, text string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":            id,
		"ownerUsername": username,
		"text":          text,
	})
	require.NoError(t, err)
	return raw
}

func profileJSON(t *testing.T, username string, followers int, bio string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"username":       username,
		"followersCount": followers,
		"biography":      bio,
	})
	require.NoError(t, err)
	return raw
}
