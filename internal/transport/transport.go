// Package transport forwards captured telemetry events to an analytics
// backend. The engine only looks at whether a call succeeded, never at what
// the backend returned.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/giftscout-telemetry/internal/config"
	"github.com/ignite/giftscout-telemetry/internal/pkg/httpretry"
)

// ErrNotConfigured is returned by Init when the transport lacks the
// credential or address it needs.
var ErrNotConfigured = errors.New("transport: not configured")

// Properties is a flat map of primitive values.
type Properties map[string]interface{}

// Transport is the analytics backend port.
type Transport interface {
	// Init prepares the backend and checks that it accepts our credential.
	Init(ctx context.Context) error
	// Capture sends one named event.
	Capture(ctx context.Context, event string, props Properties) error
	Close(ctx context.Context) error
}

// Flatten copies props keeping primitives as-is and encoding anything else
// (maps, slices, structs) as a JSON string.
func Flatten(props map[string]interface{}) Properties {
	out := make(Properties, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// Credential returns the value whose absence means the transport must not be
// initialized at all.
func Credential(cfg config.TransportConfig) string {
	switch cfg.Type {
	case "http":
		return cfg.APIKey
	case "sqs":
		return cfg.QueueURL
	default:
		return ""
	}
}

// New builds the transport selected by cfg.Type. distinctID identifies this
// engine instance to the backend.
func New(ctx context.Context, cfg config.TransportConfig, distinctID string, maxRetries int) (Transport, error) {
	switch cfg.Type {
	case "http":
		base := &http.Client{Timeout: cfg.Timeout()}
		client := httpretry.NewRetryClient(base, maxRetries)
		return NewHTTP(cfg.Host, cfg.APIKey, distinctID, client, WithInitClient(base)), nil
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return NewSQS(sqs.NewFromConfig(awsCfg), cfg.QueueURL, distinctID), nil
	case "none", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown type %q", cfg.Type)
	}
}

// Noop accepts everything and sends nothing.
type Noop struct{}

func (Noop) Init(context.Context) error { return nil }

func (Noop) Capture(context.Context, string, Properties) error { return nil }

func (Noop) Close(context.Context) error { return nil }
