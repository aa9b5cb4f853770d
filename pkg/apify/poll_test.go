package apify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pollOpts() []PollOption {
	return []PollOption{
		WithPollInterval(time.Millisecond),
		WithPollCap(5 * time.Millisecond),
		WithPollRetryLimit(3),
	}
}

func writeRun(w http.ResponseWriter, id, status string) {
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"id": id, "status": status, "defaultDatasetId": "ds-1"},
	})
}

func TestWaitForRun_PollsToSucceeded(t *testing.T) {
	var polls atomic.Int32
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeRun(w, "run-1", StatusRunning)
			return
		}
		writeRun(w, "run-1", StatusSucceeded)
	}))
	defer srv.Close()

	run, err := WaitForRun(context.Background(), c, "tok", "run-1", pollOpts()...)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestWaitForRun_FailedIsTerminalNotError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRun(w, "run-2", StatusFailed)
	}))
	defer srv.Close()

	run, err := WaitForRun(context.Background(), c, "tok", "run-2", pollOpts()...)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.True(t, run.Finished())
}

func TestWaitForRun_RetriesTransientPollFailures(t *testing.T) {
	var calls atomic.Int32
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeRun(w, "run-3", StatusSucceeded)
	}))
	defer srv.Close()

	run, err := WaitForRun(context.Background(), c, "tok", "run-3", pollOpts()...)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
}

func TestWaitForRun_SurfacesErrorAfterRetryCeiling(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := WaitForRun(context.Background(), c, "tok", "run-4", pollOpts()...)
	require.Error(t, err)
}

func TestWaitForRun_ContextCancellation(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRun(w, "run-5", StatusRunning)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := WaitForRun(ctx, c, "tok", "run-5", pollOpts()...)
	require.Error(t, err)
}

func TestCollectItems_EmptyOnFetchFailure(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	items := CollectItems(context.Background(), c, "tok", "ds-gone")
	assert.Empty(t, items)
}

func TestCollectItems_EmptyDatasetID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty dataset id")
	}))
	defer srv.Close()
	c := NewClient(WithBaseURL(srv.URL))

	assert.Empty(t, CollectItems(context.Background(), c, "tok", ""))
}
