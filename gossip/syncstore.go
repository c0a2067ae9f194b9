// Package gossip implements anti-entropy catch-up: bounded per-class
// stores of recently-seen packets, Golomb-Coded-Set filter construction,
// and the REQUEST_SYNC schedule that drives reconciliation between
// peers.
package gossip

import (
	"sync"
	"time"

	"github.com/vaultmesh/core/protocol"
)

// defaultMaxAge is how long an entry remains eligible for sync response
// or local candidacy before it is pruned.
const defaultMaxAge = 15 * time.Minute

// defaultClassCapacity bounds each per-class queue.
const defaultClassCapacity = 2000

type syncEntry struct {
	id      [32]byte
	sender  protocol.PeerID
	packet  *protocol.Packet
	created time.Time
}

// classQueue is a bounded FIFO queue for a single SyncClass, generalized
// from the root package's old expiry-map-plus-sweep sequence tracker:
// entries age out by maxAge, and the oldest entry is evicted first
// when the queue is at capacity.
//
// When bySender is non-nil the queue instead holds at most one entry
// per sender (ANNOUNCE's "keyed by sender" requirement): a fresh
// announcement from a sender already present replaces its prior entry
// rather than coexisting alongside it, since IDOf incorporates the
// timestamp and would otherwise treat every re-announcement as a
// distinct, independently-aging entry.
type classQueue struct {
	capacity int
	order    []*syncEntry
	byID     map[[32]byte]*syncEntry
	bySender map[protocol.PeerID]*syncEntry
}

func newClassQueue(capacity int) *classQueue {
	return &classQueue{
		capacity: capacity,
		byID:     make(map[[32]byte]*syncEntry),
	}
}

func newSenderKeyedClassQueue(capacity int) *classQueue {
	q := newClassQueue(capacity)
	q.bySender = make(map[protocol.PeerID]*syncEntry)
	return q
}

func (q *classQueue) insert(id [32]byte, p *protocol.Packet, now time.Time) {
	if q.bySender != nil {
		q.insertBySender(id, p, now)
		return
	}
	if _, exists := q.byID[id]; exists {
		return
	}
	if len(q.order) >= q.capacity {
		q.evictOldest()
	}
	e := &syncEntry{id: id, packet: p, created: now}
	q.order = append(q.order, e)
	q.byID[id] = e
}

// insertBySender replaces any existing entry from p.SenderID rather than
// appending alongside it, then applies the usual capacity eviction.
func (q *classQueue) insertBySender(id [32]byte, p *protocol.Packet, now time.Time) {
	if prev, exists := q.bySender[p.SenderID]; exists {
		q.removeEntry(prev)
	}
	if len(q.order) >= q.capacity {
		q.evictOldest()
	}
	e := &syncEntry{id: id, sender: p.SenderID, packet: p, created: now}
	q.order = append(q.order, e)
	q.byID[id] = e
	q.bySender[p.SenderID] = e
}

// evictOldest drops the single oldest entry, the FIFO eviction rule
// used both for capacity overflow and (for sender-keyed queues) for
// superseding a sender's stale entry.
func (q *classQueue) evictOldest() {
	if len(q.order) == 0 {
		return
	}
	q.removeEntry(q.order[0])
}

// removeEntry drops e from every index the queue maintains.
func (q *classQueue) removeEntry(e *syncEntry) {
	delete(q.byID, e.id)
	if q.bySender != nil {
		delete(q.bySender, e.sender)
	}
	for i, o := range q.order {
		if o == e {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *classQueue) prune(now time.Time, maxAge time.Duration) {
	cut := 0
	for cut < len(q.order) && now.Sub(q.order[cut].created) > maxAge {
		e := q.order[cut]
		delete(q.byID, e.id)
		if q.bySender != nil {
			delete(q.bySender, e.sender)
		}
		cut++
	}
	if cut > 0 {
		q.order = q.order[cut:]
	}
}

func (q *classQueue) fresh(now time.Time, maxAge time.Duration) []*syncEntry {
	out := make([]*syncEntry, 0, len(q.order))
	for _, e := range q.order {
		if now.Sub(e.created) <= maxAge {
			out = append(out, e)
		}
	}
	return out
}

// SyncStore holds bounded, aging per-class queues of known packet IDs,
// the local half of anti-entropy reconciliation.
type SyncStore struct {
	mu      sync.Mutex
	queues  map[protocol.SyncClass]*classQueue
	maxAge  time.Duration
}

// NewSyncStore creates a SyncStore with the default 15-minute freshness
// window and per-class capacity.
func NewSyncStore() *SyncStore {
	s := &SyncStore{
		queues: make(map[protocol.SyncClass]*classQueue),
		maxAge: defaultMaxAge,
	}
	for c := protocol.SyncClassAnnounce; c <= protocol.SyncClassFileTransfer; c++ {
		if c == protocol.SyncClassAnnounce {
			s.queues[c] = newSenderKeyedClassQueue(defaultClassCapacity)
		} else {
			s.queues[c] = newClassQueue(defaultClassCapacity)
		}
	}
	return s
}

// Insert admits a packet into its class's store, keyed by its stable
// packet ID. Duplicate IDs are no-ops.
func (s *SyncStore) Insert(class protocol.SyncClass, p *protocol.Packet) {
	id := protocol.IDOf(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[class].insert(id, p, time.Now())
}

// Prune evicts entries older than the freshness window from every class.
func (s *SyncStore) Prune() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queues {
		q.prune(now, s.maxAge)
	}
}

// LocalIDs returns the packet IDs known for the selected classes,
// filtered to those still fresh -- the input to building a GCS filter.
func (s *SyncStore) LocalIDs(classes []protocol.SyncClass) [][32]byte {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids [][32]byte
	for _, c := range classes {
		for _, e := range s.queues[c].fresh(now, s.maxAge) {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Candidates returns the fresh packets known for the selected classes --
// the responder side's pool to check against a requester's filter.
func (s *SyncStore) Candidates(classes []protocol.SyncClass) []*protocol.Packet {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var packets []*protocol.Packet
	for _, c := range classes {
		for _, e := range s.queues[c].fresh(now, s.maxAge) {
			packets = append(packets, e.packet)
		}
	}
	return packets
}
