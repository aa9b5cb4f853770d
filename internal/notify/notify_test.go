package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookDeliversEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	wh.Notify("owner-1", "job-1", KindStatus, map[string]any{"status": "harvesting"})

	select {
	case event := <-received:
		assert.Equal(t, "owner-1", event.OwnerID)
		assert.Equal(t, "job-1", event.JobID)
		assert.Equal(t, KindStatus, event.Kind)
		assert.Equal(t, "harvesting", event.Payload["status"])
		assert.False(t, event.SentAt.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestWebhookFailureDoesNotBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	done := make(chan struct{})
	go func() {
		wh.Notify("owner-1", "job-1", KindLog, map[string]any{"message": "hello"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a failing endpoint")
	}
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, Noop{}, FromConfig(""))
	assert.IsType(t, &Webhook{}, FromConfig("https://example.com/hook"))
}
