package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event kinds emitted by the pipeline.
const (
	KindStatus   = "job.status"
	KindProgress = "job.progress"
	KindLead     = "lead.saved"
	KindLog      = "job.log"
)

// Event is one best-effort notification. Delivery failures never affect the
// pipeline; consumers that need the truth read the store.
type Event struct {
	OwnerID string         `json:"owner_id"`
	JobID   string         `json:"job_id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Notifier delivers pipeline events to an operator-facing channel.
type Notifier interface {
	Notify(ownerID, jobID, kind string, payload map[string]any)
}

// Noop drops every event. Used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(ownerID, jobID, kind string, payload map[string]any) {}

// Webhook POSTs events as JSON to a configured URL. Delivery runs in its own
// goroutine with a bounded timeout so a slow endpoint never stalls a run.
type Webhook struct {
	url    string
	client *http.Client
}

var _ Notifier = (*Webhook)(nil)

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Notify(ownerID, jobID, kind string, payload map[string]any) {
	event := Event{
		OwnerID: ownerID,
		JobID:   jobID,
		Kind:    kind,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}
	go w.deliver(event)
}

func (w *Webhook) deliver(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		zap.L().Warn("failed to marshal notification", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		zap.L().Warn("failed to build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		zap.L().Warn("notification delivery failed",
			zap.String("kind", event.Kind),
			zap.String("job_id", event.JobID),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		zap.L().Warn("notification endpoint rejected event",
			zap.String("kind", event.Kind),
			zap.String("job_id", event.JobID),
			zap.Int("status", resp.StatusCode))
	}
}

// FromConfig picks the webhook notifier when a URL is configured, otherwise
// the no-op.
func FromConfig(webhookURL string) Notifier {
	if webhookURL == "" {
		return Noop{}
	}
	return NewWebhook(webhookURL)
}
