// Package client is a small HTTP client for the job API, used by the
// pagegen CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pageforge/internal/domain"
	"pageforge/internal/pipeline"
)

// ErrGaveUp is returned by Watch when the attempt budget runs out before the
// job reaches a terminal status. The job itself keeps going server-side.
var ErrGaveUp = errors.New("gave up waiting for job")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	for k, v := range e.Details {
		msg += fmt.Sprintf("; %s: %s", k, v)
	}
	return msg
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Submit posts a brief and returns the accepted job.
func (c *Client) Submit(ctx context.Context, brief []byte) (pipeline.Submission, error) {
	var sub pipeline.Submission
	err := c.do(ctx, http.MethodPost, "/v1/jobs", brief, &sub)
	return sub, err
}

// Status polls the job; the server may advance it as a side effect.
func (c *Client) Status(ctx context.Context, jobID string) (domain.JobState, error) {
	var st domain.JobState
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/status", nil, &st)
	return st, err
}

// Process explicitly advances the job.
func (c *Client) Process(ctx context.Context, jobID string) (domain.JobState, error) {
	var st domain.JobState
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/process", nil, &st)
	return st, err
}

// Get reads the stored job without advancing it.
func (c *Client) Get(ctx context.Context, jobID string) (domain.JobState, error) {
	var st domain.JobState
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &st)
	return st, err
}

type WatchOptions struct {
	Interval    time.Duration
	MaxAttempts int
	// OnUpdate sees every polled state.
	OnUpdate func(domain.JobState)
}

// Watch polls Status until the job is terminal or MaxAttempts polls have
// been made. Client-side 4xx errors stop the watch immediately.
func (c *Client) Watch(ctx context.Context, jobID string, opts WatchOptions) (domain.JobState, error) {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var last domain.JobState
	errPending := errors.New("job not terminal")
	op := func() error {
		st, err := c.Status(ctx, jobID)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		last = st
		if opts.OnUpdate != nil {
			opts.OnUpdate(st)
		}
		if !st.Status.Terminal() {
			return errPending
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Interval), uint64(opts.MaxAttempts-1)), ctx)
	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errPending):
		return last, ErrGaveUp
	default:
		return last, err
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error APIError `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jerr := json.Unmarshal(raw, &envelope); jerr != nil || envelope.Error.Code == "" {
			envelope.Error = APIError{Code: "http_error", Message: strings.TrimSpace(string(raw))}
		}
		envelope.Error.Status = resp.StatusCode
		return &envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
