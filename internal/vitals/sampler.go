package vitals

import "math/rand"

// Sampler decides once per session whether telemetry is collected at all.
type Sampler struct {
	draw func() float64
}

// NewSampler returns a sampler drawing from draw, or math/rand when nil.
func NewSampler(draw func() float64) *Sampler {
	if draw == nil {
		draw = rand.Float64
	}
	return &Sampler{draw: draw}
}

// ShouldSample draws one uniform value; the session is collected unless the
// draw exceeds rate. A rate of 1 always collects.
func (s *Sampler) ShouldSample(rate float64) bool {
	return s.draw() <= rate
}
