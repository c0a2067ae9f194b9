// Package relay implements mesh-wide packet forwarding: dedup via a
// bounded FIFO SeenSet and adaptive, loop-suppressing relay decisions via
// RelayManager.
package relay

import "sync"

// defaultSeenCapacity is the default bound on tracked packet IDs.
const defaultSeenCapacity = 10000

// SeenSet is a bounded FIFO set of packet IDs used to suppress relaying
// or delivering the same packet twice. Modeled on the expiry-map-plus-
// eviction shape of the root package's old sequence-number tracker,
// retargeted from a time-expiring map to a size-bounded FIFO ring since
// dedup here is about packet identity, not replay-window freshness.
type SeenSet struct {
	mu       sync.Mutex
	capacity int
	order    [][32]byte
	index    map[[32]byte]struct{}
}

// NewSeenSet creates a SeenSet bounded to capacity entries. A capacity of
// 0 selects the default of 10000.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &SeenSet{
		capacity: capacity,
		order:    make([][32]byte, 0, capacity),
		index:    make(map[[32]byte]struct{}, capacity),
	}
}

// Seen reports whether id has been recorded already.
func (s *SeenSet) Seen(id [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Add records id, evicting the oldest entry first if the set is full.
// Returns true if id was newly added, false if it was already present.
func (s *SeenSet) Add(id [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return false
	}

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.index, oldest)
	}

	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	return true
}

// Len reports the number of currently-tracked IDs.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
