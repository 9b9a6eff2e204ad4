package vitals

import (
	"math"
	"sync"
	"time"
)

// SummaryEntry is the latest observation of one series.
type SummaryEntry struct {
	Value     float64   `json:"value"`
	Rating    Rating    `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
}

// RollupEntry aggregates one series over the session.
type RollupEntry struct {
	Count     int     `json:"count"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Avg       float64 `json:"avg"`
	PoorCount int     `json:"poor_count"`
}

// Store is an append-only buffer of classified observations keyed by metric
// name. With maxLen 0 every observation is kept for the life of the store;
// a positive maxLen turns each series into a ring that drops its oldest entry.
type Store struct {
	mu     sync.Mutex
	series map[string][]ClassifiedMetric
	maxLen int
}

// NewStore creates an empty store.
func NewStore(maxLen int) *Store {
	if maxLen < 0 {
		maxLen = 0
	}
	return &Store{series: make(map[string][]ClassifiedMetric), maxLen: maxLen}
}

// Record appends m to the series for m.Name.
func (s *Store) Record(m ClassifiedMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.series[m.Name]
	if s.maxLen > 0 && len(list) >= s.maxLen {
		copy(list, list[1:])
		list = list[:len(list)-1]
	}
	s.series[m.Name] = append(list, m)
}

// Summary returns the latest observation per series, not an average.
func (s *Store) Summary() map[string]SummaryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]SummaryEntry, len(s.series))
	for name, list := range s.series {
		if len(list) == 0 {
			continue
		}
		last := list[len(list)-1]
		out[name] = SummaryEntry{Value: last.Value, Rating: last.Rating, Timestamp: last.ObservedAt}
	}
	return out
}

// SessionRollup scans each series once.
func (s *Store) SessionRollup() map[string]RollupEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]RollupEntry, len(s.series))
	for name, list := range s.series {
		if len(list) == 0 {
			continue
		}
		r := RollupEntry{Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		for _, m := range list {
			r.Count++
			sum += m.Value
			r.Min = math.Min(r.Min, m.Value)
			r.Max = math.Max(r.Max, m.Value)
			if m.Rating == RatingPoor {
				r.PoorCount++
			}
		}
		r.Avg = sum / float64(r.Count)
		out[name] = r
	}
	return out
}

// Poor returns every poor-rated observation across all series, oldest first
// within each series.
func (s *Store) Poor() []ClassifiedMetric {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ClassifiedMetric
	for _, list := range s.series {
		for _, m := range list {
			if m.Rating == RatingPoor {
				out = append(out, m)
			}
		}
	}
	return out
}

// Len returns the number of observations held across all series.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.series {
		n += len(list)
	}
	return n
}

// Clear drops every series.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[string][]ClassifiedMetric)
}
