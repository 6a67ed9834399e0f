package reminder

import (
	"sync"
	"time"
)

// Handle identifies one armed timer. A handle from a replaced timer no longer
// cancels anything.
type Handle struct {
	ID  string
	gen uint64
}

type timerEntry struct {
	timer  Timer
	gen    uint64
	fireAt time.Time
}

// timerRegistry holds at most one pending timer per id. Each arm gets a new
// generation; a callback only runs if its generation is still current when
// it claims the entry.
type timerRegistry struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]*timerEntry
	gen     uint64
}

func newTimerRegistry(clock Clock) *timerRegistry {
	return &timerRegistry{
		clock:   clock,
		entries: make(map[string]*timerEntry),
	}
}

// arm replaces any pending timer for id with one that runs fn at fireAt
func (r *timerRegistry) arm(id string, fireAt time.Time, fn func()) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[id]; ok {
		prev.timer.Stop()
		delete(r.entries, id)
	}

	r.gen++
	gen := r.gen
	entry := &timerEntry{gen: gen, fireAt: fireAt}
	entry.timer = r.clock.AfterFunc(fireAt.Sub(r.clock.Now()), func() {
		if r.claim(id, gen) {
			fn()
		}
	})
	r.entries[id] = entry

	return Handle{ID: id, gen: gen}
}

func (r *timerRegistry) claim(id string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.gen != gen {
		return false
	}
	delete(r.entries, id)
	return true
}

// cancel stops the pending timer for id; reports whether one was pending
func (r *timerRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(r.entries, id)
	return true
}

// cancelHandle stops h's timer only if it is still the current one for its id
func (r *timerRegistry) cancelHandle(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[h.ID]
	if !ok || entry.gen != h.gen {
		return false
	}
	entry.timer.Stop()
	delete(r.entries, h.ID)
	return true
}

func (r *timerRegistry) pending(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return entry.fireAt, true
}

func (r *timerRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *timerRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, entry := range r.entries {
		entry.timer.Stop()
		delete(r.entries, id)
	}
}
