package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/resilience"
)

const (
	defaultPollInitial    = 2 * time.Second
	defaultPollCap        = 15 * time.Second
	defaultPollRetryLimit = 5
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial    time.Duration
	cap        time.Duration
	retryLimit int
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		initial:    defaultPollInitial,
		cap:        defaultPollCap,
		retryLimit: defaultPollRetryLimit,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.initial = d
		}
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.cap = d
		}
	}
}

// WithPollRetryLimit overrides the retry ceiling for transient status
// failures during a single poll cycle.
func WithPollRetryLimit(n int) PollOption {
	return func(c *pollConfig) {
		if n > 0 {
			c.retryLimit = n
		}
	}
}

// WaitForRun polls GetRun until the run reaches any terminal status or the
// context expires. Backoff doubles from the initial interval up to the cap.
// Non-succeeded terminal statuses resolve the wait normally; the caller
// decides what to do with partial results. Transient status failures
// (server errors, rate-limited polling) are retried with exponential backoff
// up to the retry ceiling before surfacing an error. No timeout is imposed
// beyond the context's own deadline; the service enforces its run timeout.
func WaitForRun(ctx context.Context, client Client, token, runID string, opts ...PollOption) (*Run, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    cfg.retryLimit,
		InitialBackoff: cfg.initial,
		MaxBackoff:     cfg.cap,
		ShouldRetry: func(err error) bool {
			// Rate-limited polling is transient here; rotation applies only
			// to run starts.
			return resilience.IsTransient(err) || IsRateLimit(err)
		},
		OnRetry: resilience.RetryLogger("apify", "poll run"),
	}

	interval := cfg.initial
	for {
		run, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Run, error) {
			return client.GetRun(ctx, token, runID)
		})
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("apify: poll run %s", runID))
		}

		if run.Finished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("apify: poll run %s interrupted", runID))
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}

// CollectItems fetches a run's dataset. A missing or unreachable dataset
// yields an empty sequence, never an error; the warning is the only trace.
func CollectItems(ctx context.Context, client Client, token, datasetID string) []json.RawMessage {
	if datasetID == "" {
		return nil
	}
	items, err := client.DatasetItems(ctx, token, datasetID)
	if err != nil {
		zap.L().Warn("apify: dataset fetch failed, treating as empty",
			zap.String("dataset_id", datasetID),
			zap.Error(err),
		)
		return nil
	}
	return items
}
