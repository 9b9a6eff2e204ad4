// Package vitals classifies runtime performance signals against quality
// budgets and keeps the per-session observation series they produce.
package vitals

import "time"

// Rating is the qualitative verdict for one observation.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Metric names with registered budgets.
const (
	MetricLCP         = "LCP"
	MetricFID         = "FID"
	MetricCLS         = "CLS"
	MetricFCP         = "FCP"
	MetricTTFB        = "TTFB"
	MetricINP         = "INP"
	MetricBundleSize  = "bundleSize"
	MetricMemoryUsage = "memoryUsage"
)

// WebVitals are the metrics a MetricSource pushes; the engine subscribes to
// each of them once at startup.
var WebVitals = []string{MetricLCP, MetricFID, MetricCLS, MetricFCP, MetricTTFB, MetricINP}

// Viewport is the visible page area when the observation was taken.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Observation is one raw measurement. It is never mutated after creation.
type Observation struct {
	Name           string    `json:"name"`
	Value          float64   `json:"value"`
	ObservedAt     time.Time `json:"observed_at"`
	ID             string    `json:"id,omitempty"`
	URL            string    `json:"url"`
	ConnectionType string    `json:"connection_type,omitempty"`
	DeviceMemory   float64   `json:"device_memory,omitempty"`
	Viewport       Viewport  `json:"viewport"`
}

// ClassifiedMetric is an Observation with its rating.
type ClassifiedMetric struct {
	Observation
	Rating Rating `json:"rating"`
}

// Budget holds two inclusive upper bounds.
type Budget struct {
	Good             float64 `json:"good" yaml:"good"`
	NeedsImprovement float64 `json:"needs_improvement" yaml:"needs_improvement"`
}

// DefaultBudgets are the thresholds in milliseconds, except CLS (unitless),
// bundleSize (bytes) and memoryUsage (percent).
var DefaultBudgets = map[string]Budget{
	MetricLCP:         {Good: 2500, NeedsImprovement: 4000},
	MetricFID:         {Good: 100, NeedsImprovement: 300},
	MetricCLS:         {Good: 0.1, NeedsImprovement: 0.25},
	MetricFCP:         {Good: 1800, NeedsImprovement: 3000},
	MetricTTFB:        {Good: 600, NeedsImprovement: 1800},
	MetricINP:         {Good: 200, NeedsImprovement: 500},
	MetricBundleSize:  {Good: 500000, NeedsImprovement: 1000000},
	MetricMemoryUsage: {Good: 50, NeedsImprovement: 75},
}

// Classifier rates observations against a budget table.
type Classifier struct {
	budgets map[string]Budget
}

// NewClassifier builds a classifier. A nil table uses DefaultBudgets.
func NewClassifier(budgets map[string]Budget) *Classifier {
	if budgets == nil {
		budgets = DefaultBudgets
	}
	return &Classifier{budgets: budgets}
}

// Rate maps a value to a rating. Metrics without a budget are always good so
// unknown metrics never raise alarms.
func (c *Classifier) Rate(name string, value float64) Rating {
	b, ok := c.budgets[name]
	if !ok {
		return RatingGood
	}
	switch {
	case value <= b.Good:
		return RatingGood
	case value <= b.NeedsImprovement:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

// Classify rates o and returns the derived ClassifiedMetric.
func (c *Classifier) Classify(o Observation) ClassifiedMetric {
	return ClassifiedMetric{Observation: o, Rating: c.Rate(o.Name, o.Value)}
}

// Budget returns the registered budget for name.
func (c *Classifier) Budget(name string) (Budget, bool) {
	b, ok := c.budgets[name]
	return b, ok
}
