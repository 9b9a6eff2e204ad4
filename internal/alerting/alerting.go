// Package alerting delivers performance degradation alerts beyond the
// engine's own analytics capture.
package alerting

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
	"github.com/ignite/giftscout-telemetry/internal/transport"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

// Sink receives degradation alerts.
type Sink interface {
	Notify(ctx context.Context, alert vitals.Alert) error
}

// Properties flattens an alert into a capture payload: one name/value/time
// triple per offending metric plus the totals.
func Properties(alert vitals.Alert) transport.Properties {
	names := make([]string, 0, len(alert.Metrics))
	metrics := make([]map[string]interface{}, 0, len(alert.Metrics))
	for _, m := range alert.Metrics {
		names = append(names, m.Name)
		metrics = append(metrics, map[string]interface{}{
			"name":      m.Name,
			"value":     m.Value,
			"timestamp": m.ObservedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return transport.Flatten(map[string]interface{}{
		"poor_count":   alert.PoorCount,
		"threshold":    alert.Threshold,
		"metric_names": names,
		"metrics":      metrics,
		"raised_at":    alert.RaisedAt.UTC().Format(time.RFC3339Nano),
	})
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.New("alerts")}
}

func (s *LogSink) Notify(_ context.Context, alert vitals.Alert) error {
	fields := []interface{}{"poor_count", alert.PoorCount, "threshold", alert.Threshold}
	for _, m := range alert.Metrics {
		fields = append(fields, m.Name+"@"+m.ObservedAt.UTC().Format(time.RFC3339), strconv.FormatFloat(m.Value, 'f', -1, 64))
	}
	s.log.Warn("performance degradation", fields...)
	return nil
}

// Multi fans an alert out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, alert vitals.Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
