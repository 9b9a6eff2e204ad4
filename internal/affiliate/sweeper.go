package affiliate

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/giftscout-telemetry/internal/clock"
	"github.com/ignite/giftscout-telemetry/internal/pkg/distlock"
	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
)

// DefaultSweepInterval is how often the ledger sweep runs.
const DefaultSweepInterval = 24 * time.Hour

// Sweeper runs Ledger.SweepExpired once on start and then on a fixed timer.
// When a lock is set, a tick that cannot take it is skipped so only one
// instance sharing the store sweeps at a time.
type Sweeper struct {
	ledger   *Ledger
	clock    clock.Clock
	interval time.Duration
	lock     distlock.DistLock

	mu    sync.Mutex
	timer clock.Timer
	log   *logger.Logger
}

// NewSweeper creates a sweeper. lock may be nil.
func NewSweeper(ledger *Ledger, clk clock.Clock, interval time.Duration, lock distlock.DistLock) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		ledger:   ledger,
		clock:    clk,
		interval: interval,
		lock:     lock,
		log:      logger.New("sweeper"),
	}
}

// Start sweeps immediately and schedules the recurring sweep. Calling Start
// on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.mu.Unlock()
		return
	}
	s.timer = clock.Every(s.clock, s.interval, func() { s.Sweep(ctx) })
	s.mu.Unlock()

	s.log.Info("starting", "interval", s.interval.String(), "retention", s.ledger.retention.String())
	s.Sweep(ctx)
}

// Stop cancels the recurring sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Sweep runs one expiry pass and reports whether it ran.
func (s *Sweeper) Sweep(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	start := s.clock.Now()
	ran, err := distlock.Run(ctx, s.lock, func(ctx context.Context) {
		clicks, conversions := s.ledger.SweepExpired(ctx, s.clock.Now())
		if clicks > 0 || conversions > 0 {
			s.log.Info("removed expired ledger entries",
				"clicks", clicks, "conversions", conversions,
				"took", s.clock.Now().Sub(start).Round(time.Millisecond).String())
		}
	})
	if err != nil {
		s.log.Error("sweep lock failed", "error", err)
		return false
	}
	if !ran {
		s.log.Debug("sweep skipped, another instance holds the lock")
	}
	return ran
}
