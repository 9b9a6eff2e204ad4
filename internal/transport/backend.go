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

	"github.com/ignite/giftscout-telemetry/internal/affiliate"
	"github.com/ignite/giftscout-telemetry/internal/pkg/httpretry"
)

// BackendLogger mirrors affiliate events to the product API. It never
// retries; the ledger already holds the event.
type BackendLogger struct {
	apiURL string
	client httpretry.HTTPDoer
}

// NewBackendLogger posts to apiURL. A nil client gets a plain http.Client
// with timeout.
func NewBackendLogger(apiURL string, client httpretry.HTTPDoer, timeout time.Duration) *BackendLogger {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &BackendLogger{apiURL: strings.TrimRight(apiURL, "/"), client: client}
}

// LogClick sends POST {apiURL}/affiliate/click.
func (b *BackendLogger) LogClick(ctx context.Context, c affiliate.ClickEvent) error {
	return b.post(ctx, "/affiliate/click", c)
}

// LogConversion sends POST {apiURL}/affiliate/conversion.
func (b *BackendLogger) LogConversion(ctx context.Context, c affiliate.ConversionEvent) error {
	return b.post(ctx, "/affiliate/conversion", c)
}

func (b *BackendLogger) post(ctx context.Context, path string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
