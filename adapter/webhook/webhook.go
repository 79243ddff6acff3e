// Package webhook posts watch completion events as JSON to an HTTP endpoint.
//
// Requests carry the watch id so receivers can drop duplicates, and are
// signed with HMAC-SHA256 when a secret is configured. 5xx, 429 and network
// failures are retried with exponential backoff; a Retry-After header
// replaces the backoff delay for that attempt.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pithecene-io/propwatch/adapter"
	"github.com/pithecene-io/propwatch/iox"
	"github.com/pithecene-io/propwatch/policy"
	"github.com/pithecene-io/propwatch/types"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the default number of retry attempts.
	DefaultRetries = 3
	// MaxRetryAfter caps the wait a receiver can request via Retry-After.
	MaxRetryAfter = time.Minute
)

// Request headers set on every post.
const (
	HeaderWatchID   = "X-Propwatch-Watch-Id"
	HeaderEventType = "X-Propwatch-Event"
	HeaderSignature = "X-Propwatch-Signature"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Secret, when set, signs the body: HeaderSignature is
	// "sha256=" + hex(HMAC-SHA256(secret, body)).
	Secret string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the delay before the first retry (default adapter.DefaultBackoff).
	Backoff time.Duration
}

// Adapter publishes watch completion events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter. The URL is required.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("webhook adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable reports whether the receiver may accept a later attempt.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// retryable retries network errors and retriable statuses.
func retryable(err error) (bool, time.Duration) {
	var se *StatusError
	if !errors.As(err, &se) {
		return true, 0
	}
	return se.Retriable(), se.RetryAfter
}

// Publish posts the event, retrying transient failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.WatchCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	attempts := 0
	retry := policy.Retry{
		Attempts: 1 + a.config.Retries,
		Delay:    a.config.Backoff,
		Backoff:  true,
		Fn:       retryable,
	}
	err = retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		return a.post(ctx, event, body)
	})
	if err == nil {
		return nil
	}

	var se *StatusError
	if errors.As(err, &se) && !se.Retriable() {
		return fmt.Errorf("webhook: non-retriable error: %w", err)
	}
	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, err)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) post(ctx context.Context, event *adapter.WatchCompletedEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "propwatch/"+types.Version)
	req.Header.Set(HeaderWatchID, event.WatchID)
	req.Header.Set(HeaderEventType, event.EventType)
	if a.config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(a.config.Secret, body))
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	return nil
}

// retryAfter parses delay-seconds or an HTTP date, capped at MaxRetryAfter.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}
	if d <= 0 {
		return 0
	}
	return min(d, MaxRetryAfter)
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
