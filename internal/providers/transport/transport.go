// Package transport is the JSON-over-HTTP plumbing shared by provider
// clients: bounded retries, status classification and call metrics.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	"github.com/smallbiznis/dashvault/internal/observability/tracing"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("provider_not_configured")
	ErrNotFound      = errors.New("provider_resource_not_found")
	ErrUnavailable   = errors.New("provider_unavailable")
)

const maxErrorBody = 2048

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnavailable:
		return e.Retryable()
	}
	return false
}

// Retryable reports whether repeating the call can succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Options tunes a Client.
type Options struct {
	Provider        string
	Timeout         time.Duration
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// Client performs authenticated JSON calls against one provider.
type Client struct {
	opts    Options
	http    *http.Client
	auth    func(*http.Request)
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func New(opts Options, auth func(*http.Request), log *zap.Logger, metrics *obsmetrics.Metrics) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 3 * opts.Timeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		http:    tracing.WrapHTTPClient(&http.Client{Timeout: opts.Timeout}),
		auth:    auth,
		log:     log,
		metrics: metrics,
	}
}

// Do sends body as JSON and decodes a successful response into out.
// Transport failures, 429 and 5xx are retried with exponential backoff;
// every other status is returned at once.
func (c *Client) Do(ctx context.Context, operation, method, url string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.once(ctx, method, url, headers, payload, out)
		if err == nil {
			return struct{}{}, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		c.log.Warn("provider call failed, retrying",
			zap.String("provider", c.opts.Provider),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.opts.MaxTries),
		backoff.WithMaxElapsedTime(c.opts.MaxElapsed),
	)

	c.metrics.RecordProviderCall(ctx, c.opts.Provider, operation, outcome(err))
	return err
}

func (c *Client) once(ctx context.Context, method, url string, headers map[string]string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Provider:   c.opts.Provider,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// errorMessage pulls a human message out of the usual error envelopes.
func errorMessage(raw []byte) string {
	var envelope struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		switch v := envelope.Error.(type) {
		case string:
			return strings.TrimSpace(v)
		case map[string]any:
			if msg, ok := v["message"].(string); ok {
				return strings.TrimSpace(msg)
			}
			if msgs, ok := v["messages"].([]any); ok && len(msgs) > 0 {
				if msg, ok := msgs[0].(string); ok {
					return strings.TrimSpace(msg)
				}
			}
		}
		if envelope.Message != "" {
			return strings.TrimSpace(envelope.Message)
		}
	}
	return strings.TrimSpace(string(raw))
}

func outcome(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		return "not_found"
	case errors.As(err, &statusErr) && !statusErr.Retryable():
		return "rejected"
	default:
		return "error"
	}
}
