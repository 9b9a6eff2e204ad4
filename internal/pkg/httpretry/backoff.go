package httpretry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff returns how long to wait before the given retry attempt (1-based).
type Backoff func(attempt int) time.Duration

// Linear grows the delay by base on every attempt: base × attempt.
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base * time.Duration(attempt)
	}
}

// ExponentialJitter uses full jitter: random(0, min(max, base × 2^(attempt-1))),
// floored at 100ms to avoid busy-looping.
func ExponentialJitter(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		expDelay := float64(base) * math.Pow(2, float64(attempt-1))
		if expDelay > float64(max) {
			expDelay = float64(max)
		}

		jittered := time.Duration(rand.Float64() * expDelay)
		if jittered < 100*time.Millisecond {
			jittered = 100 * time.Millisecond
		}
		return jittered
	}
}

// Constant always waits d. Mostly useful in tests.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}
