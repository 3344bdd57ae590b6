package bridge

import "sync"

// defaultSeenCapacity is the number of recent event ids remembered for
// redelivery suppression.
const defaultSeenCapacity = 4096

// seenRing is a fixed-size set of recently observed event ids. When full,
// inserting a new id evicts the oldest one. It is goroutine-safe.
type seenRing struct {
	mu    sync.Mutex
	ids   []string
	index map[string]struct{}
	pos   int
}

func newSeenRing(capacity int) *seenRing {
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &seenRing{
		ids:   make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Observe records the id and reports whether it had been seen before.
func (r *seenRing) Observe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; ok {
		return true
	}

	if old := r.ids[r.pos]; old != "" {
		delete(r.index, old)
	}
	r.ids[r.pos] = id
	r.index[id] = struct{}{}
	r.pos = (r.pos + 1) % len(r.ids)
	return false
}
