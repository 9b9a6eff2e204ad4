// Package httpretry provides an HTTP client with automatic retry logic and
// pluggable backoff strategies for resilient calls to analytics backends.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
)

var log = logger.New("httpretry")

// maxRetryAfter caps how long a server-supplied Retry-After can stall a send.
const maxRetryAfter = 30 * time.Second

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	backoff    Backoff
}

// Option configures a RetryClient.
type Option func(*RetryClient)

// WithBackoff replaces the default exponential-jitter backoff.
func WithBackoff(b Backoff) Option {
	return func(rc *RetryClient) { rc.backoff = b }
}

// NewRetryClient wraps client. A nil client gets a 30s-timeout http.Client;
// maxRetries counts retries after the first request and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		backoff:    ExponentialJitter(1*time.Second, 30*time.Second),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do sends req, retrying 429 and 5xx gateway-class responses plus network
// errors. Client errors and cancellation are returned immediately. The last
// response is handed back as-is so callers can read its status and body.
// A Retry-After header on a retryable response overrides the backoff.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var (
		lastErr error
		delay   time.Duration
	)

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, err
			}
			if delay == 0 {
				delay = rc.backoff(attempt)
			}
			log.Debug("retrying request",
				"attempt", attempt, "max", rc.maxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "wait", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil, firstErr(lastErr, err)
			}
			delay = 0
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !isRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		delay = retryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: failed to reset request body: %w", err)
	}
	req.Body = body
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// retryAfter reads a delay-seconds Retry-After value. HTTP-date values and
// garbage yield 0, meaning "use the backoff".
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
