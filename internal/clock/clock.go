// Package clock is the time port the telemetry engine schedules through.
// Production code uses Real; tests drive a Manual clock forward explicitly.
package clock

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped it
	// before it fired.
	Stop() bool
}

// Clock is a time source that can schedule callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Every runs f every interval until the returned Timer is stopped. The first
// run happens one interval from now.
func Every(c Clock, interval time.Duration, f func()) Timer {
	r := &repeater{clock: c, interval: interval, f: f}
	r.mu.Lock()
	r.current = c.AfterFunc(interval, r.fire)
	r.mu.Unlock()
	return r
}

type repeater struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	f        func()
	current  Timer
	stopped  bool
}

func (r *repeater) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.f()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.current = r.clock.AfterFunc(r.interval, r.fire)
	}
}

func (r *repeater) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	if r.current != nil {
		r.current.Stop()
	}
	return true
}
