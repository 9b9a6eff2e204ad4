package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/giftscout-telemetry/internal/pkg/httpretry"
)

// DefaultHost is used when no capture host is configured.
const DefaultHost = "https://app.posthog.com"

// HTTP posts events to a PostHog-compatible capture API.
type HTTP struct {
	host       string
	apiKey     string
	distinctID string
	client     httpretry.HTTPDoer
	initClient httpretry.HTTPDoer
	now        func() time.Time
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithInitClient sets the client used for the Init handshake. The init
// lifecycle owns retries for Init, so this client should send each request
// once.
func WithInitClient(c httpretry.HTTPDoer) HTTPOption {
	return func(h *HTTP) { h.initClient = c }
}

// NewHTTP returns a capture transport. client is usually a
// *httpretry.RetryClient and is used for Capture; Init uses it too unless
// WithInitClient is given.
func NewHTTP(host, apiKey, distinctID string, client httpretry.HTTPDoer, opts ...HTTPOption) *HTTP {
	if host == "" {
		host = DefaultHost
	}
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	h := &HTTP{
		host:       strings.TrimRight(host, "/"),
		apiKey:     apiKey,
		distinctID: distinctID,
		client:     client,
		initClient: client,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type capturePayload struct {
	APIKey     string     `json:"api_key"`
	Event      string     `json:"event,omitempty"`
	DistinctID string     `json:"distinct_id"`
	Properties Properties `json:"properties,omitempty"`
	Timestamp  string     `json:"timestamp,omitempty"`
}

// Init asks the backend to resolve flags for this instance, which fails fast
// on a bad project key.
func (h *HTTP) Init(ctx context.Context) error {
	if h.apiKey == "" {
		return ErrNotConfigured
	}
	return h.post(ctx, h.initClient, "/decide/?v=3", capturePayload{APIKey: h.apiKey, DistinctID: h.distinctID})
}

func (h *HTTP) Capture(ctx context.Context, event string, props Properties) error {
	if h.apiKey == "" {
		return ErrNotConfigured
	}
	return h.post(ctx, h.client, "/capture/", capturePayload{
		APIKey:     h.apiKey,
		Event:      event,
		DistinctID: h.distinctID,
		Properties: props,
		Timestamp:  h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *HTTP) Close(context.Context) error { return nil }

func (h *HTTP) post(ctx context.Context, client httpretry.HTTPDoer, path string, payload capturePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}
