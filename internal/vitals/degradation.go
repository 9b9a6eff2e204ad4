package vitals

import (
	"sort"
	"time"
)

// Alert reports that poor observations reached the configured threshold.
type Alert struct {
	Threshold int                `json:"threshold"`
	PoorCount int                `json:"poor_count"`
	Metrics   []ClassifiedMetric `json:"metrics"`
	RaisedAt  time.Time          `json:"raised_at"`
}

// DegradationMonitor counts all-time poor observations in a Store and emits
// an Alert once the count reaches the threshold. It is a plain counter, not a
// sliding window, and nothing resets it except clearing the store.
// Every poor observation past the threshold emits again.
type DegradationMonitor struct {
	store     *Store
	threshold int
	emit      func(Alert)
	now       func() time.Time
}

// NewDegradationMonitor returns a monitor over store. threshold < 1 uses 3.
func NewDegradationMonitor(store *Store, threshold int, now func() time.Time, emit func(Alert)) *DegradationMonitor {
	if threshold < 1 {
		threshold = 3
	}
	if now == nil {
		now = time.Now
	}
	return &DegradationMonitor{store: store, threshold: threshold, emit: emit, now: now}
}

// Observe is called after m has been recorded. Non-poor metrics are ignored.
// It returns the alert it emitted, if any.
func (d *DegradationMonitor) Observe(m ClassifiedMetric) (Alert, bool) {
	if m.Rating != RatingPoor {
		return Alert{}, false
	}

	poor := d.store.Poor()
	if len(poor) < d.threshold {
		return Alert{}, false
	}

	sort.SliceStable(poor, func(i, j int) bool { return poor[i].ObservedAt.Before(poor[j].ObservedAt) })
	alert := Alert{
		Threshold: d.threshold,
		PoorCount: len(poor),
		Metrics:   poor,
		RaisedAt:  d.now(),
	}
	if d.emit != nil {
		d.emit(alert)
	}
	return alert, true
}
