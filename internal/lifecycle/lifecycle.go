// Package lifecycle starts the analytics transport with bounded retries.
//
//	Uninitialized → Initializing → Ready
//	Initializing → Failed → Initializing → … → Abandoned
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/giftscout-telemetry/internal/clock"
	"github.com/ignite/giftscout-telemetry/internal/pkg/httpretry"
	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
	"github.com/ignite/giftscout-telemetry/internal/transport"
)

// State is the transport initialization state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
	Abandoned
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// VerifyEvent is the self-test event captured after a successful init.
const VerifyEvent = "telemetry_initialized"

// Config tunes the lifecycle.
type Config struct {
	// Credential gates initialization; empty means never initialize.
	Credential string
	MaxRetries int
	RetryBase  time.Duration
}

// Lifecycle owns the transport's initialization state.
type Lifecycle struct {
	mu        sync.Mutex
	state     State
	attempt   int
	stopped   bool
	retry     clock.Timer
	cfg       Config
	transport transport.Transport
	clock     clock.Clock
	backoff   httpretry.Backoff
	onChange  func(State)
	log       *logger.Logger
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// OnStateChange registers fn to observe every transition. fn runs with the
// lifecycle lock held and must not call back into it.
func OnStateChange(fn func(State)) Option {
	return func(l *Lifecycle) { l.onChange = fn }
}

// New returns an uninitialized lifecycle. Retries wait RetryBase × attempt.
func New(tr transport.Transport, clk clock.Clock, cfg Config, opts ...Option) *Lifecycle {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	l := &Lifecycle{
		cfg:       cfg,
		transport: tr,
		clock:     clk,
		backoff:   httpretry.Linear(cfg.RetryBase),
		log:       logger.New("lifecycle"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Attempt returns the number of failed attempts so far.
func (l *Lifecycle) Attempt() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempt
}

// Init starts initialization without blocking: the first attempt is
// scheduled on the clock with no delay and runs on the timer's goroutine.
// It is idempotent: calls while Initializing, Failed (a retry is pending),
// Ready or Abandoned do nothing. A done ctx or a missing credential skips
// initialization entirely.
func (l *Lifecycle) Init(ctx context.Context) {
	if ctx.Err() != nil {
		l.log.Debug("no active context, skipping transport init")
		return
	}

	l.mu.Lock()
	if l.stopped || l.state != Uninitialized {
		l.mu.Unlock()
		return
	}
	if l.cfg.Credential == "" {
		l.mu.Unlock()
		l.log.Warn("no transport credential configured, telemetry stays local")
		return
	}
	l.setState(Initializing)
	l.retry = l.clock.AfterFunc(0, func() { l.firstAttempt(ctx) })
	l.mu.Unlock()
}

func (l *Lifecycle) firstAttempt(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	if l.stopped || l.state != Initializing {
		l.mu.Unlock()
		return
	}
	l.retry = nil
	l.mu.Unlock()

	l.attemptInit(ctx)
}

// Stop cancels a pending retry. The state is left as is.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
}

func (l *Lifecycle) attemptInit(ctx context.Context) {
	err := l.transport.Init(ctx)

	if err != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.stopped {
			return
		}

		l.attempt++
		if l.attempt >= l.cfg.MaxRetries {
			l.setState(Abandoned)
			l.log.Warn("transport init abandoned", "attempts", l.attempt, "error", err)
			return
		}

		delay := l.backoff(l.attempt)
		l.setState(Failed)
		l.retry = l.clock.AfterFunc(delay, func() { l.retryInit(ctx) })
		l.log.Error("transport init failed, retrying",
			"attempt", l.attempt, "max", l.cfg.MaxRetries, "wait", delay.String(), "error", err)
		return
	}

	// Verification failures are logged only; a transport that initialized
	// stays Ready.
	if verr := l.transport.Capture(ctx, VerifyEvent, transport.Properties{"attempts": l.Attempt() + 1}); verr != nil {
		l.log.Error("transport verification failed", "error", verr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.setState(Ready)
	l.log.Info("transport ready", "failed_attempts", l.attempt)
}

func (l *Lifecycle) retryInit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	if l.stopped || l.state != Failed {
		l.mu.Unlock()
		return
	}
	l.retry = nil
	l.setState(Initializing)
	l.mu.Unlock()

	l.attemptInit(ctx)
}

// setState must be called with l.mu held.
func (l *Lifecycle) setState(s State) {
	l.state = s
	if l.onChange != nil {
		l.onChange(s)
	}
}
