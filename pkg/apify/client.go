package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/scoutline/leadharvest/internal/resilience"
)

// Default base URL for the Apify v2 API.
const defaultBaseURL = "https://api.apify.com/v2"

// Run statuses reported by the task service. StatusSucceeded, StatusFailed,
// StatusAborted and StatusTimedOut are all terminal; non-succeeded terminal
// runs still expose whatever partial dataset exists.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// Client defines the task-service operations the pipeline requires. The
// access token is passed per call so the credential pool can rotate tokens
// between operations.
type Client interface {
	StartRun(ctx context.Context, token string, req RunRequest) (*Run, error)
	GetRun(ctx context.Context, token, runID string) (*Run, error)
	DatasetItems(ctx context.Context, token, datasetID string) ([]json.RawMessage, error)
	AbortRun(ctx context.Context, token, runID string) error
}

// RunRequest describes a task run to start.
type RunRequest struct {
	ActorID  string
	Input    any
	MemoryMB int
}

// Run is the state of one task-service run.
type Run struct {
	ID               string     `json:"id"`
	ActorID          string     `json:"actId"`
	Status           string     `json:"status"`
	DefaultDatasetID string     `json:"defaultDatasetId"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

// Succeeded reports whether the run finished cleanly.
func (r *Run) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// runEnvelope is the {"data": ...} wrapper the API puts around run objects.
type runEnvelope struct {
	Data Run `json:"data"`
}

// APIError is returned for non-2xx responses outside the rate-limit class.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify: HTTP %d: %s", e.StatusCode, e.Body)
}

// RateLimitError marks a rate-limit-class failure (429, or 403 which the
// service returns when an account's usage is exhausted). The credential pool
// rotates to the next token on this class.
type RateLimitError struct {
	StatusCode int
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("apify: rate limited (HTTP %d): %s", e.StatusCode, e.Body)
}

// IsRateLimit reports whether the error chain contains a RateLimitError.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRequestsPerMinute caps the client-side request rate.
func WithRequestsPerMinute(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a task-service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(1), 30),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) StartRun(ctx context.Context, token string, req RunRequest) (*Run, error) {
	path := fmt.Sprintf("/acts/%s/runs", url.PathEscape(req.ActorID))
	if req.MemoryMB > 0 {
		path += "?memory=" + strconv.Itoa(req.MemoryMB)
	}

	var resp runEnvelope
	if err := c.post(ctx, token, path, req.Input, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: start run %s", req.ActorID))
	}
	return &resp.Data, nil
}

func (c *httpClient) GetRun(ctx context.Context, token, runID string) (*Run, error) {
	var resp runEnvelope
	if err := c.get(ctx, token, fmt.Sprintf("/actor-runs/%s", runID), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: get run %s", runID))
	}
	return &resp.Data, nil
}

func (c *httpClient) DatasetItems(ctx context.Context, token, datasetID string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	path := fmt.Sprintf("/datasets/%s/items?clean=true&format=json", datasetID)
	if err := c.get(ctx, token, path, &items); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: dataset items %s", datasetID))
	}
	return items, nil
}

func (c *httpClient) AbortRun(ctx context.Context, token, runID string) error {
	if err := c.post(ctx, token, fmt.Sprintf("/actor-runs/%s/abort", runID), nil, &runEnvelope{}); err != nil {
		return eris.Wrap(err, fmt.Sprintf("apify: abort run %s", runID))
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, token, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return eris.Wrap(err, "rate limiter")
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return &RateLimitError{StatusCode: resp.StatusCode, Body: string(data)}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return resilience.NewTransientError(
			&APIError{StatusCode: resp.StatusCode, Body: string(data)},
			resp.StatusCode,
		)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
