package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/giftscout-telemetry/internal/clock"
	"github.com/ignite/giftscout-telemetry/internal/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	initErrs   []error
	initCalls  int
	captured   []string
	captureErr error
}

func (f *fakeTransport) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if len(f.initErrs) == 0 {
		return nil
	}
	err := f.initErrs[0]
	f.initErrs = f.initErrs[1:]
	return err
}

func (f *fakeTransport) Capture(_ context.Context, event string, _ transport.Properties) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, event)
	return f.captureErr
}

func (f *fakeTransport) Close(context.Context) error { return nil }

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
var errDown = errors.New("connection refused")

func TestInitSucceeds(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{}
	l := New(tr, clk, Config{Credential: "phc_1"})

	l.Init(context.Background())
	clk.Advance(0)
	assert.Equal(t, Ready, l.State())
	assert.Equal(t, 1, tr.initCalls)
	assert.Equal(t, []string{VerifyEvent}, tr.captured)
}

func TestInitIdempotentWhenReady(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{}
	l := New(tr, clk, Config{Credential: "phc_1"})

	l.Init(context.Background())
	clk.Advance(0)
	l.Init(context.Background())
	clk.Advance(0)
	assert.Equal(t, 1, tr.initCalls)
	assert.Len(t, tr.captured, 1)
}

func TestInitSkippedWithoutCredential(t *testing.T) {
	tr := &fakeTransport{}
	l := New(tr, clock.NewManual(t0), Config{})

	l.Init(context.Background())
	assert.Equal(t, Uninitialized, l.State())
	assert.Zero(t, tr.initCalls)
}

func TestInitSkippedWithoutContext(t *testing.T) {
	tr := &fakeTransport{}
	l := New(tr, clock.NewManual(t0), Config{Credential: "k"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Init(ctx)
	assert.Equal(t, Uninitialized, l.State())
	assert.Zero(t, tr.initCalls)
}

func TestRetryBackoffIsLinear(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{initErrs: []error{errDown, errDown}}
	l := New(tr, clk, Config{Credential: "k", MaxRetries: 3, RetryBase: time.Second})

	l.Init(context.Background())
	clk.Advance(0)
	assert.Equal(t, Failed, l.State())
	assert.Equal(t, 1, l.Attempt())

	// first retry after 1000ms × 1
	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, tr.initCalls)
	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, tr.initCalls)
	assert.Equal(t, 2, l.Attempt())

	// second retry after 1000ms × 2
	clk.Advance(1999 * time.Millisecond)
	assert.Equal(t, 2, tr.initCalls)
	clk.Advance(time.Millisecond)
	assert.Equal(t, 3, tr.initCalls)

	assert.Equal(t, Ready, l.State())
	assert.Equal(t, []string{VerifyEvent}, tr.captured)
}

func TestAbandonAfterMaxRetries(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{initErrs: []error{errDown, errDown, errDown, errDown}}

	var states []State
	l := New(tr, clk, Config{Credential: "k"}, OnStateChange(func(s State) { states = append(states, s) }))

	l.Init(context.Background())
	clk.Advance(time.Minute)

	assert.Equal(t, Abandoned, l.State())
	assert.Equal(t, 3, tr.initCalls)
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, []State{Initializing, Failed, Initializing, Failed, Initializing, Abandoned}, states)

	// abandoned is terminal
	l.Init(context.Background())
	assert.Equal(t, 3, tr.initCalls)
}

func TestVerificationFailureKeepsReady(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{captureErr: errors.New("400 bad request")}
	l := New(tr, clk, Config{Credential: "k"})

	l.Init(context.Background())
	clk.Advance(0)
	assert.Equal(t, Ready, l.State())
}

func TestInitWhileRetryPendingIsNoop(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{initErrs: []error{errDown}}
	l := New(tr, clk, Config{Credential: "k"})

	l.Init(context.Background())
	clk.Advance(0)
	l.Init(context.Background())
	assert.Equal(t, 1, tr.initCalls)
	assert.Equal(t, 1, clk.Pending())
}

func TestStopCancelsRetry(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{initErrs: []error{errDown}}
	l := New(tr, clk, Config{Credential: "k"})

	l.Init(context.Background())
	clk.Advance(0)
	require.Equal(t, 1, clk.Pending())

	l.Stop()
	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Hour)
	assert.Equal(t, 1, tr.initCalls)
	assert.Equal(t, Failed, l.State())
}

func TestInitDoesNotBlockCaller(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{}
	l := New(tr, clk, Config{Credential: "k"})

	l.Init(context.Background())
	assert.Equal(t, Initializing, l.State())
	assert.Zero(t, tr.initCalls)
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(0)
	assert.Equal(t, Ready, l.State())
	assert.Equal(t, 1, tr.initCalls)
}

func TestStopBeforeFirstAttempt(t *testing.T) {
	clk := clock.NewManual(t0)
	tr := &fakeTransport{}
	l := New(tr, clk, Config{Credential: "k"})

	l.Init(context.Background())
	l.Stop()
	clk.Advance(time.Second)
	assert.Zero(t, tr.initCalls)
	assert.Equal(t, 0, clk.Pending())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "abandoned", Abandoned.String())
	assert.Equal(t, "unknown", State(42).String())
}
