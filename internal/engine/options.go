package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/giftscout-telemetry/internal/alerting"
	"github.com/ignite/giftscout-telemetry/internal/clock"
	"github.com/ignite/giftscout-telemetry/internal/config"
	"github.com/ignite/giftscout-telemetry/internal/kvstore"
	"github.com/ignite/giftscout-telemetry/internal/pkg/distlock"
	"github.com/ignite/giftscout-telemetry/internal/sysmetrics"
	"github.com/ignite/giftscout-telemetry/internal/transport"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

// Options is everything an Engine depends on. Zero values fall back to the
// defaults noted per field.
type Options struct {
	Clock     clock.Clock         // clock.Real
	Store     kvstore.Store       // nil keeps the ledger in memory only
	Transport transport.Transport // transport.Noop
	// Credential gates transport initialization; empty keeps telemetry local.
	Credential string
	Backend    *transport.BackendLogger // optional affiliate mirror
	Source     vitals.Source            // optional web vitals stream
	Memory     sysmetrics.Probe         // optional memory pressure probe
	AlertSink  alerting.Sink            // optional, in addition to the capture
	SweepLock  distlock.DistLock        // optional
	Registerer prometheus.Registerer    // optional

	SampleRate float64
	// Draw replaces the sampler's random source.
	Draw    func() float64
	Budgets map[string]vitals.Budget // vitals.DefaultBudgets

	AlertThreshold     int           // 3
	MaxRetries         int           // 3
	RetryBase          time.Duration // 1s
	Retention          time.Duration // 30 days
	SweepInterval      time.Duration // 24h
	MemoryPollInterval time.Duration // 30s; negative disables polling
	MaxSeriesLength    int           // 0, unbounded
	SendTimeout        time.Duration // 5s
	SessionID          string        // random UUID
}

// OptionsFromConfig maps the telemetry and transport config sections onto
// Options. Collaborators (store, transport, probes) are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Telemetry
	opts := Options{
		Credential:         transport.Credential(cfg.Transport),
		SampleRate:         t.SamplingRate(),
		AlertThreshold:     t.AlertThreshold,
		MaxRetries:         t.MaxRetries,
		RetryBase:          t.RetryBase(),
		Retention:          t.Retention(),
		SweepInterval:      t.SweepInterval(),
		MemoryPollInterval: t.MemoryPollInterval(),
		MaxSeriesLength:    t.MaxSeriesLength,
		SendTimeout:        t.SendTimeout(),
	}
	if t.DisableMemoryPoll {
		opts.MemoryPollInterval = -1
	}
	return opts
}

func (o *Options) applyDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Transport == nil {
		o.Transport = transport.Noop{}
	}
	if o.AlertThreshold <= 0 {
		o.AlertThreshold = 3
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.MemoryPollInterval == 0 {
		o.MemoryPollInterval = 30 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
}
