// Package engine is the public face of the telemetry and attribution engine.
// Callers never see an error from a network or storage failure; those are
// logged and counted. Only validation errors are returned, so an HTTP layer
// can answer 400.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ignite/giftscout-telemetry/internal/affiliate"
	"github.com/ignite/giftscout-telemetry/internal/alerting"
	"github.com/ignite/giftscout-telemetry/internal/clock"
	"github.com/ignite/giftscout-telemetry/internal/lifecycle"
	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
	"github.com/ignite/giftscout-telemetry/internal/transport"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

// MaxEventNameLength is the longest accepted Track event name, in characters.
const MaxEventNameLength = 200

// Event names the engine captures on its own.
const (
	EventAffiliateClick      = "affiliate_click"
	EventAffiliateConversion = "affiliate_conversion"
	EventWebVital            = "web_vital"
	EventDegradation         = "performance_degradation"
	EventSessionSummary      = "session_summary"
)

// ErrInvalidEventName is returned by ValidateEventName.
var ErrInvalidEventName = errors.New("invalid event name")

// ValidateEventName requires a non-empty name of at most MaxEventNameLength
// characters.
func ValidateEventName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEventName)
	}
	if n := utf8.RuneCountInString(name); n > MaxEventNameLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidEventName, n, MaxEventNameLength)
	}
	return nil
}

// Engine wires the sampler, metric pipeline, affiliate ledger and transport
// lifecycle together. Build one with New.
type Engine struct {
	opts      Options
	sessionID string
	sampled   bool

	classifier *vitals.Classifier
	store      *vitals.Store
	monitor    *vitals.DegradationMonitor
	ledger     *affiliate.Ledger
	sweeper    *affiliate.Sweeper
	lifecycle  *lifecycle.Lifecycle
	metrics    *Metrics
	log        *logger.Logger

	// background work outlives any single request
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	closed   bool
	memTimer clock.Timer
	unsubs   []func()
	sends    sync.WaitGroup
}

// New builds an engine. The sampling decision is drawn here, once; a session
// that is sampled out keeps the full API but records nothing.
func New(opts Options) *Engine {
	opts.applyDefaults()

	e := &Engine{
		opts:       opts,
		sessionID:  opts.SessionID,
		classifier: vitals.NewClassifier(opts.Budgets),
		store:      vitals.NewStore(opts.MaxSeriesLength),
		metrics:    NewMetrics(opts.Registerer),
		log:        logger.New("engine"),
	}
	if e.sessionID == "" {
		e.sessionID = uuid.NewString()
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.sampled = vitals.NewSampler(opts.Draw).ShouldSample(opts.SampleRate)
	e.monitor = vitals.NewDegradationMonitor(e.store, opts.AlertThreshold, opts.Clock.Now, e.onAlert)
	e.ledger = affiliate.NewLedger(opts.Store,
		affiliate.WithRetention(opts.Retention),
		affiliate.WithStoreErrorHook(func(error) { e.metrics.storageFailures.Inc() }),
	)
	if e.sampled {
		// restore before any track call can append
		if err := e.ledger.Load(e.ctx); err != nil {
			e.log.Error("could not restore ledger, continuing in memory", "error", err)
		}
	}
	e.sweeper = affiliate.NewSweeper(e.ledger, opts.Clock, opts.SweepInterval, opts.SweepLock)
	e.lifecycle = lifecycle.New(opts.Transport, opts.Clock, lifecycle.Config{
		Credential: opts.Credential,
		MaxRetries: opts.MaxRetries,
		RetryBase:  opts.RetryBase,
	}, lifecycle.OnStateChange(func(s lifecycle.State) {
		e.metrics.lifecycleState.Set(float64(s))
	}))

	e.log.Info("engine created",
		"session_id", e.sessionID, "sampled", e.sampled, "sample_rate", opts.SampleRate)
	return e
}

// SessionID identifies this engine instance to the backend.
func (e *Engine) SessionID() string { return e.sessionID }

// Sampled reports whether this session collects telemetry.
func (e *Engine) Sampled() bool { return e.sampled }

// TransportState returns the transport lifecycle state.
func (e *Engine) TransportState() lifecycle.State { return e.lifecycle.State() }

// Init starts the sweep, metric subscriptions and memory poll, and schedules
// transport initialization without waiting on it. Repeated calls only retry
// the transport entry guard, which is itself idempotent.
func (e *Engine) Init(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !e.sampled {
		e.log.Debug("session sampled out, init skipped")
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	first := !e.started
	e.started = true
	e.mu.Unlock()

	if first {
		e.sweeper.Start(e.ctx)
		e.subscribe()
		e.startMemoryPoll()
	}

	e.lifecycle.Init(e.ctx)
}

func (e *Engine) subscribe() {
	if e.opts.Source == nil {
		return
	}
	var unsubs []func()
	for _, name := range vitals.WebVitals {
		name := name
		unsubs = append(unsubs, e.opts.Source.Subscribe(name, func(o vitals.Observation) {
			o.Name = name
			e.ObserveMetric(o)
		}))
	}
	e.mu.Lock()
	e.unsubs = append(e.unsubs, unsubs...)
	e.mu.Unlock()
}

func (e *Engine) startMemoryPoll() {
	if e.opts.Memory == nil || e.opts.MemoryPollInterval < 0 {
		return
	}
	timer := clock.Every(e.opts.Clock, e.opts.MemoryPollInterval, e.pollMemory)
	e.mu.Lock()
	e.memTimer = timer
	e.mu.Unlock()
}

func (e *Engine) pollMemory() {
	pct, err := e.opts.Memory.MemoryPercent(e.ctx)
	if err != nil {
		e.log.Debug("memory probe failed", "error", err)
		return
	}
	e.ObserveMetric(vitals.Observation{Name: vitals.MetricMemoryUsage, Value: pct})
}

// Track forwards a custom event. Invalid names are dropped with a warning.
func (e *Engine) Track(event string, props map[string]interface{}) {
	if !e.sampled {
		e.metrics.dropped.WithLabelValues("track", "sampled_out").Inc()
		return
	}
	if err := ValidateEventName(event); err != nil {
		e.log.Warn("dropping event", "error", err)
		e.metrics.dropped.WithLabelValues("track", "invalid").Inc()
		return
	}
	e.metrics.accepted.WithLabelValues("track").Inc()
	e.capture(event, transport.Flatten(props))
}

// TrackAffiliateClick stamps, records and forwards a click. The click is in
// the ledger before any network call starts. The recorded event is returned.
func (e *Engine) TrackAffiliateClick(ctx context.Context, c affiliate.ClickEvent) (affiliate.ClickEvent, error) {
	if !e.sampled {
		e.metrics.dropped.WithLabelValues("click", "sampled_out").Inc()
		return c, nil
	}

	c.OccurredAt = e.opts.Clock.Now()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ASIN == "" {
		c.ASIN = affiliate.ExtractASIN(c.AffiliateURL)
	}
	if c.SessionID == "" {
		c.SessionID = e.sessionID
	}

	if err := e.ledger.AppendClick(ctx, c); err != nil {
		e.log.Warn("dropping affiliate click", "error", err, "user_id", c.UserID)
		e.metrics.dropped.WithLabelValues("click", "invalid").Inc()
		return c, err
	}
	e.metrics.accepted.WithLabelValues("click").Inc()

	e.capture(EventAffiliateClick, transport.Flatten(map[string]interface{}{
		"click_id":      c.ID,
		"product_id":    c.ProductID,
		"asin":          c.ASIN,
		"category":      c.Category,
		"price":         c.Price,
		"currency":      c.Currency,
		"source":        string(c.Source),
		"affiliate_url": c.AffiliateURL,
		"referrer":      c.Referrer,
		"user_id":       c.UserID,
	}))
	if e.opts.Backend != nil {
		e.send("backend", func(ctx context.Context) error { return e.opts.Backend.LogClick(ctx, c) })
	}
	return c, nil
}

// TrackAffiliateConversion stamps, records, attributes and forwards a
// conversion. A zero Quantity is taken as one item.
func (e *Engine) TrackAffiliateConversion(ctx context.Context, c affiliate.ConversionEvent) (affiliate.ConversionEvent, error) {
	if !e.sampled {
		e.metrics.dropped.WithLabelValues("conversion", "sampled_out").Inc()
		return c, nil
	}

	c.ConvertedAt = e.opts.Clock.Now()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Quantity == 0 {
		c.Quantity = 1
	}
	if c.ASIN == "" {
		c.ASIN = affiliate.ExtractASIN(c.AffiliateURL)
	}
	if c.SessionID == "" {
		c.SessionID = e.sessionID
	}

	if err := e.ledger.AppendConversion(ctx, c); err != nil {
		e.log.Warn("dropping affiliate conversion", "error", err, "order_id", c.OrderID)
		e.metrics.dropped.WithLabelValues("conversion", "invalid").Inc()
		return c, err
	}
	e.metrics.accepted.WithLabelValues("conversion").Inc()

	props := map[string]interface{}{
		"conversion_id": c.ID,
		"order_id":      c.OrderID,
		"product_id":    c.ProductID,
		"asin":          c.ASIN,
		"revenue":       c.Revenue,
		"commission":    c.Commission,
		"currency":      c.Currency,
		"quantity":      c.Quantity,
		"category":      c.Category,
		"user_id":       c.UserID,
	}
	if attr, ok := affiliate.Attribute(c, e.ledger.Clicks()); ok {
		props["attributed_source"] = string(attr.Source)
		props["attributed_click_id"] = attr.Click.ID
		props["time_to_conversion_ms"] = attr.TimeToConversion.Milliseconds()
	}
	e.capture(EventAffiliateConversion, transport.Flatten(props))

	if e.opts.Backend != nil {
		e.send("backend", func(ctx context.Context) error { return e.opts.Backend.LogConversion(ctx, c) })
	}
	return c, nil
}

// ObserveMetric classifies and records one observation, forwards it as a
// web_vital and feeds the degradation monitor. It reports false when the
// session is sampled out or the observation has no name.
func (e *Engine) ObserveMetric(o vitals.Observation) (vitals.ClassifiedMetric, bool) {
	if !e.sampled {
		e.metrics.dropped.WithLabelValues("metric", "sampled_out").Inc()
		return vitals.ClassifiedMetric{}, false
	}
	if o.Name == "" {
		e.metrics.dropped.WithLabelValues("metric", "invalid").Inc()
		return vitals.ClassifiedMetric{}, false
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = e.opts.Clock.Now()
	}

	m := e.classifier.Classify(o)
	e.store.Record(m)
	e.metrics.observations.WithLabelValues(m.Name, string(m.Rating)).Inc()

	e.capture(EventWebVital, transport.Flatten(map[string]interface{}{
		"name":            m.Name,
		"value":           m.Value,
		"rating":          string(m.Rating),
		"metric_id":       m.ID,
		"url":             m.URL,
		"connection_type": m.ConnectionType,
		"device_memory":   m.DeviceMemory,
		"viewport":        m.Viewport,
	}))

	e.monitor.Observe(m)
	return m, true
}

func (e *Engine) onAlert(alert vitals.Alert) {
	e.metrics.alerts.Inc()
	e.log.Warn("performance degradation", "poor_count", alert.PoorCount, "threshold", alert.Threshold)
	e.capture(EventDegradation, alerting.Properties(alert))
	if e.opts.AlertSink != nil {
		e.send("alert", func(ctx context.Context) error { return e.opts.AlertSink.Notify(ctx, alert) })
	}
}

// GetPerformanceSummary returns the latest observation per metric.
func (e *Engine) GetPerformanceSummary() map[string]vitals.SummaryEntry {
	return e.store.Summary()
}

// SessionRollup returns per-metric aggregates for the session so far.
func (e *Engine) SessionRollup() map[string]vitals.RollupEntry {
	return e.store.SessionRollup()
}

// GetAnalytics aggregates the ledger over window. An empty window is month.
func (e *Engine) GetAnalytics(window affiliate.TimeWindow) affiliate.Snapshot {
	if window == "" {
		window = affiliate.WindowMonth
	}
	return affiliate.Aggregate(window, e.opts.Clock.Now(), e.ledger.Clicks(), e.ledger.Conversions())
}

// ClearMetrics drops every recorded observation, which also resets the
// degradation count.
func (e *Engine) ClearMetrics() {
	e.store.Clear()
}

// Shutdown exports the session rollup, stops every timer and subscription,
// waits for in-flight sends (bounded by ctx) and closes the transport.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if e.sampled && e.store.Len() > 0 {
		e.capture(EventSessionSummary, transport.Flatten(map[string]interface{}{
			"observations": e.store.Len(),
			"rollup":       e.store.SessionRollup(),
		}))
	}

	e.mu.Lock()
	e.closed = true
	if e.memTimer != nil {
		e.memTimer.Stop()
		e.memTimer = nil
	}
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	e.sweeper.Stop()
	e.lifecycle.Stop()

	done := make(chan struct{})
	go func() {
		e.sends.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for in-flight sends: %w", ctx.Err())
	}
	e.cancel()

	if cerr := e.opts.Transport.Close(ctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	e.log.Info("engine stopped", "session_id", e.sessionID)
	return err
}

// capture forwards an event when the transport is ready. Before that, events
// are recorded locally only.
func (e *Engine) capture(event string, props transport.Properties) {
	switch e.lifecycle.State() {
	case lifecycle.Ready:
	case lifecycle.Abandoned:
		e.log.Warn("transport abandoned, event not forwarded", "event", event)
		e.metrics.dropped.WithLabelValues(event, "abandoned").Inc()
		return
	default:
		e.log.Debug("transport not ready, event not forwarded", "event", event)
		e.metrics.dropped.WithLabelValues(event, "not_ready").Inc()
		return
	}

	props["session_id"] = e.sessionID
	e.send("transport", func(ctx context.Context) error {
		return e.opts.Transport.Capture(ctx, event, props)
	})
}

// send runs fn in the background with the send timeout. Sends after
// Shutdown are discarded.
func (e *Engine) send(destination string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.sends.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.SendTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			e.log.Error("send failed", "destination", destination, "error", err)
			e.metrics.transportFailures.WithLabelValues(destination).Inc()
		}
	}()
}
