package vitals

import "sync"

// Source is a push-based stream of observations. Subscribe registers fn for
// one metric name and returns a function that removes the subscription.
type Source interface {
	Subscribe(name string, fn func(Observation)) (unsubscribe func())
}

// BeaconSource fans observations published by an ingest endpoint out to the
// subscribers of their metric name. Delivery is synchronous.
type BeaconSource struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Observation)
}

// NewBeaconSource creates an empty source.
func NewBeaconSource() *BeaconSource {
	return &BeaconSource{subs: make(map[string]map[int]func(Observation))}
}

func (b *BeaconSource) Subscribe(name string, fn func(Observation)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[name] == nil {
		b.subs[name] = make(map[int]func(Observation))
	}
	b.subs[name][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[name], id)
	}
}

// Publish delivers o to every subscriber of o.Name and reports whether
// anyone was listening.
func (b *BeaconSource) Publish(o Observation) bool {
	b.mu.RLock()
	fns := make([]func(Observation), 0, len(b.subs[o.Name]))
	for _, fn := range b.subs[o.Name] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(o)
	}
	return len(fns) > 0
}
