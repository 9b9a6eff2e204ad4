package affiliate

import (
	"fmt"
	"time"
)

// TimeWindow scopes an analytics query.
type TimeWindow string

const (
	WindowDay   TimeWindow = "day"
	WindowWeek  TimeWindow = "week"
	WindowMonth TimeWindow = "month"
	WindowYear  TimeWindow = "year"
	WindowAll   TimeWindow = "all"
)

var windowDurations = map[TimeWindow]time.Duration{
	WindowDay:   24 * time.Hour,
	WindowWeek:  7 * 24 * time.Hour,
	WindowMonth: 30 * 24 * time.Hour,
	WindowYear:  365 * 24 * time.Hour,
}

// ParseTimeWindow accepts the window names; empty means month.
func ParseTimeWindow(s string) (TimeWindow, error) {
	if s == "" {
		return WindowMonth, nil
	}
	w := TimeWindow(s)
	if _, ok := windowDurations[w]; ok || w == WindowAll {
		return w, nil
	}
	return "", fmt.Errorf("unknown time window %q", s)
}

// Duration returns the window length. bounded is false for WindowAll.
func (w TimeWindow) Duration() (d time.Duration, bounded bool) {
	d, bounded = windowDurations[w]
	return d, bounded
}

// SourcePerformance is the per-source slice of a snapshot.
type SourcePerformance struct {
	Clicks         int     `json:"clicks"`
	Conversions    int     `json:"conversions"`
	Revenue        float64 `json:"revenue"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Snapshot is an on-demand aggregate over one time window. It is never stored.
type Snapshot struct {
	Window              TimeWindow                   `json:"window"`
	GeneratedAt         time.Time                    `json:"generated_at"`
	TotalClicks         int                          `json:"total_clicks"`
	TotalConversions    int                          `json:"total_conversions"`
	TotalRevenue        float64                      `json:"total_revenue"`
	TotalCommission     float64                      `json:"total_commission"`
	ConversionRate      float64                      `json:"conversion_rate"`
	AverageOrderValue   float64                      `json:"average_order_value"`
	ClicksByCategory    map[string]int               `json:"clicks_by_category"`
	RevenueByCategory   map[string]float64           `json:"revenue_by_category"`
	PerformanceBySource map[Source]SourcePerformance `json:"performance_by_source"`
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

// Aggregate computes a Snapshot over clicks with OccurredAt and conversions
// with ConvertedAt at or after now minus the window. Conversions are credited
// to a source through Attribute against the in-window clicks.
func Aggregate(window TimeWindow, now time.Time, clicks []ClickEvent, conversions []ConversionEvent) Snapshot {
	d, bounded := window.Duration()
	cutoff := now.Add(-d)
	inWindow := func(t time.Time) bool { return !bounded || !t.Before(cutoff) }

	snap := Snapshot{
		Window:              window,
		GeneratedAt:         now,
		ClicksByCategory:    make(map[string]int),
		RevenueByCategory:   make(map[string]float64),
		PerformanceBySource: make(map[Source]SourcePerformance),
	}

	var windowClicks []ClickEvent
	for _, c := range clicks {
		if !inWindow(c.OccurredAt) {
			continue
		}
		windowClicks = append(windowClicks, c)
		snap.TotalClicks++
		if c.Category != "" {
			snap.ClicksByCategory[c.Category]++
		}
		perf := snap.PerformanceBySource[c.Source]
		perf.Clicks++
		snap.PerformanceBySource[c.Source] = perf
	}

	for _, conv := range conversions {
		if !inWindow(conv.ConvertedAt) {
			continue
		}
		snap.TotalConversions++
		snap.TotalRevenue += conv.Revenue
		snap.TotalCommission += conv.Commission
		if conv.Category != "" {
			snap.RevenueByCategory[conv.Category] += conv.Revenue
		}

		if attr, ok := Attribute(conv, windowClicks); ok {
			perf := snap.PerformanceBySource[attr.Source]
			perf.Conversions++
			perf.Revenue += conv.Revenue
			snap.PerformanceBySource[attr.Source] = perf
		}
	}

	snap.ConversionRate = ratio(float64(snap.TotalConversions), float64(snap.TotalClicks))
	snap.AverageOrderValue = ratio(snap.TotalRevenue, float64(snap.TotalConversions))
	for src, perf := range snap.PerformanceBySource {
		perf.ConversionRate = ratio(float64(perf.Conversions), float64(perf.Clicks))
		snap.PerformanceBySource[src] = perf
	}
	return snap
}
