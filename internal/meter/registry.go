package meter

import (
	"sync"

	gometrics "github.com/rcrowley/go-metrics"
)

// Entry is a point-in-time view of one live group's counter.
type Entry struct {
	Key      string
	Count    int64
	Rate1    float64
	Rate5    float64
	Rate15   float64
	RateMean float64
}

// Registry is a concurrent mapping from composite key to a decaying
// rate meter, auto-vivifying meters on first mark. Marks arrive
// concurrently from many workers while snapshots and clears run on the
// tick path.
type Registry struct {
	mu     sync.RWMutex
	meters map[string]gometrics.Meter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		meters: make(map[string]gometrics.Meter, 64),
	}
}

// Mark increments the meter for the given key, creating it if absent.
// Exactly one meter ever exists per key: the fast path is a read lock,
// with a double-checked insert under the write lock on miss.
func (r *Registry) Mark(key string) {
	r.mu.RLock()
	m, ok := r.meters[key]
	r.mu.RUnlock()

	if !ok {
		m = r.vivify(key)
	}

	m.Mark(1)
}

// vivify inserts a fresh meter for key, or returns the one a
// concurrent caller inserted first.
func (r *Registry) vivify(key string) gometrics.Meter {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check after acquiring the write lock.
	if m, ok := r.meters[key]; ok {
		return m
	}

	m := gometrics.NewMeter()
	r.meters[key] = m

	return m
}

// Snapshot returns a consistent view of all live entries, each key
// exactly once. Iteration order is unspecified.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.meters))

	for key, m := range r.meters {
		snap := m.Snapshot()
		entries = append(entries, Entry{
			Key:      key,
			Count:    snap.Count(),
			Rate1:    snap.Rate1(),
			Rate5:    snap.Rate5(),
			Rate15:   snap.Rate15(),
			RateMean: snap.RateMean(),
		})
	}

	return entries
}

// Clear atomically removes every entry. A mark racing with the clear
// either lands in the old generation, discarded with it, or re-vivifies
// a fresh meter in the new one; no key is ever double-counted.
func (r *Registry) Clear() {
	r.mu.Lock()
	old := r.meters
	r.meters = make(map[string]gometrics.Meter, 64)
	r.mu.Unlock()

	// Stopped meters leave the go-metrics rate arbiter; marking a
	// stopped meter is a no-op.
	for _, m := range old {
		m.Stop()
	}
}

// Reset zeroes one key's accumulated count without removing the key,
// by swapping in a fresh meter. Unknown keys are ignored.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	old, ok := r.meters[key]
	if ok {
		r.meters[key] = gometrics.NewMeter()
	}
	r.mu.Unlock()

	if ok {
		old.Stop()
	}
}

// Len returns the number of live keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.meters)
}
