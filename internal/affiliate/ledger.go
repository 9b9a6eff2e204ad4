package affiliate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/giftscout-telemetry/internal/kvstore"
	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
)

// Storage keys for the two persisted lists.
const (
	ClicksKey      = "affiliate_clicks"
	ConversionsKey = "affiliate_conversions"
)

// DefaultRetention is how long ledger entries survive before a sweep drops them.
const DefaultRetention = 30 * 24 * time.Hour

// Ledger is the durable append log of clicks and conversions. The in-memory
// lists are the source of truth; each append replaces the whole persisted list
// while the lock is held, so persisted state always matches call order.
//
// The persisted lists are read once, before the first mutation, so an append
// never overwrites history it has not seen. If that read fails the ledger
// detaches from the store and stays memory-only for its lifetime.
type Ledger struct {
	mu          sync.Mutex
	store       kvstore.Store
	loaded      bool
	retention   time.Duration
	clicks      []ClickEvent
	conversions []ConversionEvent
	onStoreErr  func(error)
	log         *logger.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.retention = d
		}
	}
}

// WithStoreErrorHook is called after every failed persist or load.
func WithStoreErrorHook(fn func(error)) LedgerOption {
	return func(l *Ledger) { l.onStoreErr = fn }
}

// NewLedger returns an empty ledger. A nil store keeps the ledger memory-only.
func NewLedger(store kvstore.Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:     store,
		retention: DefaultRetention,
		log:       logger.New("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load restores both lists from the store. It runs at most once; later
// calls, and the implicit load before the first append or sweep, are no-ops.
// On failure the ledger goes memory-only and the error is returned for
// logging.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureLoaded(ctx)
}

// ensureLoaded must be called with l.mu held.
func (l *Ledger) ensureLoaded(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	l.loaded = true
	if l.store == nil {
		return nil
	}

	var clicks []ClickEvent
	var conversions []ConversionEvent
	err := l.load(ctx, ClicksKey, &clicks)
	if err == nil {
		err = l.load(ctx, ConversionsKey, &conversions)
	}
	if err != nil {
		l.log.Error("failed to restore ledger, continuing in memory only", "error", err)
		l.store = nil
		l.storeFailed(err)
		return err
	}

	// nothing can be in memory yet: every mutation loads first
	l.clicks = clicks
	l.conversions = conversions
	l.log.Info("ledger restored", "clicks", len(clicks), "conversions", len(conversions))
	return nil
}

func (l *Ledger) load(ctx context.Context, key string, into interface{}) error {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// AppendClick validates c, appends it and persists the click list.
// Persistence failures are logged; the in-memory copy is kept regardless.
func (l *Ledger) AppendClick(ctx context.Context, c ClickEvent) error {
	if err := c.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(ctx)
	l.clicks = append(l.clicks, c)
	l.persist(ctx, ClicksKey, l.clicks)
	return nil
}

// AppendConversion validates c, appends it and persists the conversion list.
func (l *Ledger) AppendConversion(ctx context.Context, c ConversionEvent) error {
	if err := c.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(ctx)
	l.conversions = append(l.conversions, c)
	l.persist(ctx, ConversionsKey, l.conversions)
	return nil
}

// Clicks returns a copy of the click list in append order.
func (l *Ledger) Clicks() []ClickEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ClickEvent(nil), l.clicks...)
}

// Conversions returns a copy of the conversion list in append order.
func (l *Ledger) Conversions() []ConversionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConversionEvent(nil), l.conversions...)
}

// SweepExpired drops clicks with OccurredAt and conversions with ConvertedAt
// strictly older than now minus the retention window, then re-persists both
// lists. It is idempotent.
func (l *Ledger) SweepExpired(ctx context.Context, now time.Time) (clicksRemoved, conversionsRemoved int) {
	cutoff := now.Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(ctx)

	keptClicks := l.clicks[:0:0]
	for _, c := range l.clicks {
		if c.OccurredAt.Before(cutoff) {
			clicksRemoved++
			continue
		}
		keptClicks = append(keptClicks, c)
	}
	keptConversions := l.conversions[:0:0]
	for _, c := range l.conversions {
		if c.ConvertedAt.Before(cutoff) {
			conversionsRemoved++
			continue
		}
		keptConversions = append(keptConversions, c)
	}
	l.clicks = keptClicks
	l.conversions = keptConversions

	l.persist(ctx, ClicksKey, l.clicks)
	l.persist(ctx, ConversionsKey, l.conversions)
	return clicksRemoved, conversionsRemoved
}

// persist must be called with l.mu held.
func (l *Ledger) persist(ctx context.Context, key string, list interface{}) {
	if l.store == nil {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		l.log.Error("failed to encode ledger", "key", key, "error", err)
		return
	}
	if err := l.store.Set(ctx, key, string(data)); err != nil {
		l.log.Error("failed to persist ledger, continuing in memory", "key", key, "error", err)
		l.storeFailed(err)
	}
}

func (l *Ledger) storeFailed(err error) {
	if l.onStoreErr != nil {
		l.onStoreErr(err)
	}
}
