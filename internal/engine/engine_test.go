package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/giftscout-telemetry/internal/affiliate"
	"github.com/ignite/giftscout-telemetry/internal/clock"
	"github.com/ignite/giftscout-telemetry/internal/config"
	"github.com/ignite/giftscout-telemetry/internal/kvstore"
	"github.com/ignite/giftscout-telemetry/internal/lifecycle"
	"github.com/ignite/giftscout-telemetry/internal/sysmetrics"
	"github.com/ignite/giftscout-telemetry/internal/transport"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

var t0 = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

type captured struct {
	event string
	props transport.Properties
}

type fakeTransport struct {
	mu        sync.Mutex
	initErr   error
	initCalls int
	events    []captured
	closed    bool
}

func (f *fakeTransport) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeTransport) Capture(_ context.Context, event string, props transport.Properties) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, captured{event: event, props: props})
	return nil
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) named(event string) []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []captured
	for _, c := range f.events {
		if c.event == event {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	engine    *Engine
	clock     *clock.Manual
	transport *fakeTransport
	store     *kvstore.Memory
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewManual(t0),
		transport: &fakeTransport{},
		store:     kvstore.NewMemory(),
	}
	opts := Options{
		Clock:              h.clock,
		Store:              h.store,
		Transport:          h.transport,
		Credential:         "phc_test",
		SampleRate:         1,
		MemoryPollInterval: -1,
		SessionID:          "session-1",
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = New(opts)
	t.Cleanup(func() { h.engine.Shutdown(context.Background()) })
	return h
}

// init runs Init and fires the first, already due transport attempt.
func (h *harness) init(ctx context.Context) {
	h.engine.Init(ctx)
	h.clock.Advance(0)
}

// flush waits for background sends to land.
func (h *harness) flush() { h.engine.sends.Wait() }

func searchClick() affiliate.ClickEvent {
	return affiliate.ClickEvent{
		ProductID:    "P1",
		Category:     "kitchen",
		AffiliateURL: "https://www.amazon.com/dp/B07PGL2ZSL?tag=giftscout-20",
		Source:       affiliate.SourceSearch,
	}
}

func TestInitTwiceInitializesTransportOnce(t *testing.T) {
	h := newHarness(t, nil)

	h.init(context.Background())
	h.init(context.Background())
	h.flush()

	assert.Equal(t, lifecycle.Ready, h.engine.TransportState())
	assert.Equal(t, 1, h.transport.initCalls)
	assert.Len(t, h.transport.named(lifecycle.VerifyEvent), 1)
}

func TestClickThenConversionAnalytics(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.init(ctx)

	_, err := h.engine.TrackAffiliateClick(ctx, searchClick())
	require.NoError(t, err)

	h.clock.Advance(70 * time.Second)
	_, err = h.engine.TrackAffiliateConversion(ctx, affiliate.ConversionEvent{
		OrderID:      "113-4455",
		ProductID:    "P1",
		Revenue:      50,
		Commission:   5,
		Currency:     "USD",
		AffiliateURL: "https://www.amazon.com/dp/B07PGL2ZSL?tag=giftscout-20",
		ClickedAt:    t0.Add(10 * time.Second),
	})
	require.NoError(t, err)

	snap := h.engine.GetAnalytics(affiliate.WindowAll)
	assert.Equal(t, 1, snap.TotalClicks)
	assert.Equal(t, 1, snap.TotalConversions)
	assert.Equal(t, 50.0, snap.TotalRevenue)
	assert.Equal(t, 5.0, snap.TotalCommission)
	assert.Equal(t, 1.0, snap.ConversionRate)
	assert.Equal(t, 50.0, snap.AverageOrderValue)
	assert.Equal(t, affiliate.SourcePerformance{Clicks: 1, Conversions: 1, Revenue: 50, ConversionRate: 1},
		snap.PerformanceBySource[affiliate.SourceSearch])

	h.flush()
	conversions := h.transport.named(EventAffiliateConversion)
	require.Len(t, conversions, 1)
	assert.Equal(t, "search", conversions[0].props["attributed_source"])
	assert.Equal(t, int64(70000), conversions[0].props["time_to_conversion_ms"])
	assert.Equal(t, "session-1", conversions[0].props["session_id"])
}

func TestDefaultAnalyticsWindowIsMonth(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.TrackAffiliateClick(ctx, searchClick())
	require.NoError(t, err)
	h.clock.Advance(31 * 24 * time.Hour)

	assert.Equal(t, affiliate.WindowMonth, h.engine.GetAnalytics("").Window)
	assert.Equal(t, 0, h.engine.GetAnalytics("").TotalClicks)
	assert.Equal(t, 1, h.engine.GetAnalytics(affiliate.WindowAll).TotalClicks)
}

type countingSink struct {
	mu     sync.Mutex
	alerts []vitals.Alert
}

func (s *countingSink) Notify(_ context.Context, a vitals.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func TestThreePoorObservationsRaiseOneAlert(t *testing.T) {
	sink := &countingSink{}
	h := newHarness(t, func(o *Options) {
		o.AlertSink = sink
		o.AlertThreshold = 3
	})
	h.init(context.Background())

	for i := 0; i < 3; i++ {
		_, ok := h.engine.ObserveMetric(vitals.Observation{Name: vitals.MetricLCP, Value: 4500 + float64(i)})
		require.True(t, ok)
	}
	h.flush()
	assert.Len(t, h.transport.named(EventDegradation), 1)
	assert.Len(t, sink.alerts, 1)
	assert.Equal(t, 3, sink.alerts[0].PoorCount)

	// no reset, no duplicate suppression
	assert.NotPanics(t, func() {
		h.engine.ObserveMetric(vitals.Observation{Name: vitals.MetricLCP, Value: 9000})
	})
	h.flush()
	assert.Len(t, h.transport.named(EventDegradation), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.engine.metrics.alerts))
}

func TestClearMetricsResetsDegradation(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AlertThreshold = 2 })
	h.engine.ObserveMetric(vitals.Observation{Name: vitals.MetricCLS, Value: 0.5})
	h.engine.ClearMetrics()
	h.engine.ObserveMetric(vitals.Observation{Name: vitals.MetricCLS, Value: 0.5})

	assert.Equal(t, 0.0, testutil.ToFloat64(h.engine.metrics.alerts))
	assert.Len(t, h.engine.GetPerformanceSummary(), 1)
}

func TestTrackRejectsInvalidNames(t *testing.T) {
	h := newHarness(t, nil)
	h.init(context.Background())
	h.flush()
	before := len(h.transport.events)

	h.engine.Track("", nil)
	h.engine.Track(strings.Repeat("x", 201), nil)
	h.flush()
	assert.Len(t, h.transport.events, before)

	h.engine.Track(strings.Repeat("x", 200), map[string]interface{}{"gift_id": 7})
	h.flush()
	assert.Len(t, h.transport.events, before+1)
}

func TestValidateEventName(t *testing.T) {
	assert.ErrorIs(t, ValidateEventName(""), ErrInvalidEventName)
	assert.ErrorIs(t, ValidateEventName(strings.Repeat("é", 201)), ErrInvalidEventName)
	assert.NoError(t, ValidateEventName(strings.Repeat("é", 200)))
}

func TestSampledOutSessionRecordsNothing(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.SampleRate = 0.1
		o.Draw = func() float64 { return 0.5 }
	})
	ctx := context.Background()
	h.init(ctx)

	assert.False(t, h.engine.Sampled())
	h.engine.Track("gift_viewed", nil)
	_, err := h.engine.TrackAffiliateClick(ctx, searchClick())
	assert.NoError(t, err)
	_, ok := h.engine.ObserveMetric(vitals.Observation{Name: vitals.MetricLCP, Value: 9000})
	assert.False(t, ok)

	assert.Zero(t, h.transport.initCalls)
	assert.Empty(t, h.engine.GetPerformanceSummary())
	assert.Equal(t, 0, h.engine.GetAnalytics(affiliate.WindowAll).TotalClicks)
	_, stored, _ := h.store.Get(ctx, affiliate.ClicksKey)
	assert.False(t, stored)
}

func TestEventsRecordedButNotForwardedWithoutCredential(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Credential = "" })
	ctx := context.Background()
	h.init(ctx)

	c, err := h.engine.TrackAffiliateClick(ctx, searchClick())
	require.NoError(t, err)
	h.flush()

	assert.Equal(t, lifecycle.Uninitialized, h.engine.TransportState())
	assert.Empty(t, h.transport.events)
	assert.Equal(t, "B07PGL2ZSL", c.ASIN)
	assert.Equal(t, t0, c.OccurredAt)
	assert.NotEmpty(t, c.ID)

	raw, ok, err := h.store.Get(ctx, affiliate.ClicksKey)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted []affiliate.ClickEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, c.ID, persisted[0].ID)
}

func TestAbandonedTransportIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.initErr = errors.New("dns failure")
	ctx := context.Background()

	h.init(ctx)
	h.clock.Advance(10 * time.Second)
	require.Equal(t, lifecycle.Abandoned, h.engine.TransportState())
	assert.Equal(t, 3, h.transport.initCalls)

	assert.NotPanics(t, func() {
		h.engine.Track("gift_viewed", nil)
		_, err := h.engine.TrackAffiliateClick(ctx, searchClick())
		assert.NoError(t, err)
	})
	h.flush()
	assert.Empty(t, h.transport.events)
	assert.Len(t, h.engine.ledger.Clicks(), 1)
}

func TestHTTPTransportInitFollowsLifecycleSchedule(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/decide") {
			mu.Lock()
			hits++
			mu.Unlock()
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	decideHits := func() int {
		mu.Lock()
		defer mu.Unlock()
		return hits
	}

	ctx := context.Background()
	tr, err := transport.New(ctx, config.TransportConfig{
		Type: "http", APIKey: "phc_test", Host: server.URL, TimeoutSeconds: 1,
	}, "session-1", 3)
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.Transport = tr })

	h.engine.Init(ctx)
	assert.Equal(t, 0, decideHits(), "Init returns before the first attempt")
	assert.Equal(t, lifecycle.Initializing, h.engine.TransportState())

	h.clock.Advance(0)
	assert.Equal(t, 1, decideHits())
	assert.Equal(t, lifecycle.Failed, h.engine.TransportState())

	h.clock.Advance(time.Second)
	assert.Equal(t, 2, decideHits())

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 3, decideHits())
	assert.Equal(t, lifecycle.Abandoned, h.engine.TransportState())

	h.clock.Advance(time.Hour)
	assert.Equal(t, 3, decideHits())
}

func TestInvalidAffiliateEventsReturnValidationErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	bad := searchClick()
	bad.Source = "billboard"
	_, err := h.engine.TrackAffiliateClick(ctx, bad)
	assert.ErrorIs(t, err, affiliate.ErrInvalidEvent)

	_, err = h.engine.TrackAffiliateConversion(ctx, affiliate.ConversionEvent{
		OrderID:      "o1",
		Currency:     "USD",
		AffiliateURL: "https://amzn.to/x",
		ClickedAt:    t0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, affiliate.ErrInvalidEvent, "conversion stamped before its click")
	assert.Empty(t, h.engine.ledger.Conversions())
}

func TestConversionDefaultsQuantity(t *testing.T) {
	h := newHarness(t, nil)
	c, err := h.engine.TrackAffiliateConversion(context.Background(), affiliate.ConversionEvent{
		OrderID:      "o1",
		Currency:     "USD",
		AffiliateURL: "https://www.amazon.com/gp/product/B000000001",
		ClickedAt:    t0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Quantity)
	assert.Equal(t, "B000000001", c.ASIN)
}

func seedClicks(t *testing.T, store kvstore.Store, clicks ...affiliate.ClickEvent) {
	t.Helper()
	data, err := json.Marshal(clicks)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), affiliate.ClicksKey, string(data)))
}

func TestInitRestoresAndSweepsLedger(t *testing.T) {
	store := kvstore.NewMemory()
	old := searchClick()
	old.ID = "old"
	old.OccurredAt = t0.Add(-45 * 24 * time.Hour)
	fresh := searchClick()
	fresh.ID = "fresh"
	fresh.OccurredAt = t0.Add(-time.Hour)
	seedClicks(t, store, old, fresh)

	h := newHarness(t, func(o *Options) { o.Store = store })
	require.Len(t, h.engine.ledger.Clicks(), 2, "restored at construction")

	h.init(context.Background())
	clicks := h.engine.ledger.Clicks()
	require.Len(t, clicks, 1)
	assert.Equal(t, "fresh", clicks[0].ID)

	h.clock.Advance(31 * 24 * time.Hour)
	assert.Empty(t, h.engine.ledger.Clicks())
}

func TestClickBeforeInitKeepsPreviousSession(t *testing.T) {
	store := kvstore.NewMemory()
	a, b := searchClick(), searchClick()
	a.ID, b.ID = "prev-1", "prev-2"
	a.OccurredAt, b.OccurredAt = t0.Add(-2*time.Hour), t0.Add(-time.Hour)
	seedClicks(t, store, a, b)

	h := newHarness(t, func(o *Options) { o.Store = store })
	ctx := context.Background()
	_, err := h.engine.TrackAffiliateClick(ctx, searchClick())
	require.NoError(t, err)
	h.init(ctx)

	assert.Equal(t, 3, h.engine.GetAnalytics(affiliate.WindowAll).TotalClicks)

	raw, ok, err := store.Get(ctx, affiliate.ClicksKey)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted []affiliate.ClickEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Len(t, persisted, 3)
}

func TestMetricSourceSubscription(t *testing.T) {
	src := vitals.NewBeaconSource()
	h := newHarness(t, func(o *Options) { o.Source = src })
	h.init(context.Background())
	h.init(context.Background())

	assert.True(t, src.Publish(vitals.Observation{Name: vitals.MetricTTFB, Value: 2000, URL: "https://giftscout.example/"}))

	sum := h.engine.GetPerformanceSummary()
	require.Contains(t, sum, vitals.MetricTTFB)
	assert.Equal(t, vitals.RatingPoor, sum[vitals.MetricTTFB].Rating)
	assert.Equal(t, t0, sum[vitals.MetricTTFB].Timestamp)
	assert.Equal(t, 1, h.engine.SessionRollup()[vitals.MetricTTFB].Count, "one subscription per metric")

	require.NoError(t, h.engine.Shutdown(context.Background()))
	assert.False(t, src.Publish(vitals.Observation{Name: vitals.MetricTTFB, Value: 1}))
}

func TestMemoryPoll(t *testing.T) {
	probe := sysmetrics.ProbeFunc(func(context.Context) (float64, error) { return 80, nil })
	h := newHarness(t, func(o *Options) {
		o.Memory = probe
		o.MemoryPollInterval = 30 * time.Second
	})
	h.init(context.Background())

	h.clock.Advance(29 * time.Second)
	assert.NotContains(t, h.engine.GetPerformanceSummary(), vitals.MetricMemoryUsage)

	h.clock.Advance(31 * time.Second)
	sum := h.engine.GetPerformanceSummary()
	require.Contains(t, sum, vitals.MetricMemoryUsage)
	assert.Equal(t, vitals.RatingPoor, sum[vitals.MetricMemoryUsage].Rating)
	assert.Equal(t, 2, h.engine.SessionRollup()[vitals.MetricMemoryUsage].Count)
}

func TestShutdownExportsRollupAndStopsTimers(t *testing.T) {
	probe := sysmetrics.ProbeFunc(func(context.Context) (float64, error) { return 10, nil })
	h := newHarness(t, func(o *Options) {
		o.Memory = probe
		o.MemoryPollInterval = 30 * time.Second
	})
	h.init(context.Background())
	h.engine.ObserveMetric(vitals.Observation{Name: vitals.MetricFCP, Value: 1200})
	require.Greater(t, h.clock.Pending(), 0)

	require.NoError(t, h.engine.Shutdown(context.Background()))

	summaries := h.transport.named(EventSessionSummary)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0].props["rollup"], `"FCP"`)
	assert.Equal(t, 0, h.clock.Pending())
	assert.True(t, h.transport.closed)

	// sends after shutdown are discarded
	h.engine.Track("late_event", nil)
	assert.Len(t, h.transport.named("late_event"), 0)
	assert.NoError(t, h.engine.Shutdown(context.Background()))
}

func TestBackendMirror(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	h := newHarness(t, func(o *Options) {
		o.Backend = transport.NewBackendLogger(server.URL, server.Client(), time.Second)
		o.Credential = ""
	})
	ctx := context.Background()

	_, err := h.engine.TrackAffiliateClick(ctx, searchClick())
	require.NoError(t, err)
	_, err = h.engine.TrackAffiliateConversion(ctx, affiliate.ConversionEvent{
		OrderID: "o1", ProductID: "P1", Currency: "USD", Revenue: 20,
		AffiliateURL: "https://amzn.to/x", ClickedAt: t0,
	})
	require.NoError(t, err)
	h.flush()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"/affiliate/click", "/affiliate/conversion"}, paths)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, kvstore.ErrUnavailable
}
func (brokenStore) Set(context.Context, string, string) error { return kvstore.ErrUnavailable }

func TestStorageFailureKeepsEventsInMemory(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, func(o *Options) {
		o.Store = brokenStore{}
		o.Registerer = reg
	})
	ctx := context.Background()
	h.init(ctx)

	_, err := h.engine.TrackAffiliateClick(ctx, searchClick())
	require.NoError(t, err)
	assert.Len(t, h.engine.ledger.Clicks(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.engine.metrics.storageFailures), "one failed restore, then memory only")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.APIKey = "phc_live"
	cfg.Telemetry.DisableMemoryPoll = true

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "phc_live", opts.Credential)
	assert.Equal(t, 1.0, opts.SampleRate)
	assert.Equal(t, 3, opts.AlertThreshold)
	assert.Equal(t, time.Second, opts.RetryBase)
	assert.Equal(t, 30*24*time.Hour, opts.Retention)
	assert.Equal(t, time.Duration(-1), opts.MemoryPollInterval)
}
