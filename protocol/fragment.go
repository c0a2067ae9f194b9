package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Fragmentation thresholds.
const (
	FragmentTriggerSize   = 512 // encoded-unpadded parent size above which a packet is split
	MaxFragmentChunkSize  = 469 // max bytes of unpadded parent encoding per fragment
	fragmentHeaderSize    = 13  // groupID(8) + index(2) + total(2) + originalType(1)
	FragmentGroupTimeout  = 30 * time.Second
	FragmentSweepInterval = 10 * time.Second
)

// NeedsFragmentation reports whether the unpadded encoding of p must be
// split before sending.
func NeedsFragmentation(p *Packet) (bool, error) {
	if p.Type == TypeFragment {
		return false, nil
	}
	encoded, err := Encode(p, false)
	if err != nil {
		return false, err
	}
	return len(encoded) > FragmentTriggerSize, nil
}

// Split encodes parent (unpadded) and, if it exceeds FragmentTriggerSize,
// breaks it into a sequence of FRAGMENT packets sharing a random groupID.
// Returns (nil, nil) if parent does not need fragmentation.
func Split(parent *Packet) ([]*Packet, error) {
	need, err := NeedsFragmentation(parent)
	if err != nil {
		return nil, err
	}
	if !need {
		return nil, nil
	}

	encoded, err := Encode(parent, false)
	if err != nil {
		return nil, err
	}

	var groupID [8]byte
	if _, err := rand.Read(groupID[:]); err != nil {
		return nil, err
	}

	total := (len(encoded) + MaxFragmentChunkSize - 1) / MaxFragmentChunkSize
	fragments := make([]*Packet, 0, total)

	for i := 0; i < total; i++ {
		start := i * MaxFragmentChunkSize
		end := start + MaxFragmentChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := encoded[start:end]

		payload := make([]byte, fragmentHeaderSize+len(chunk))
		copy(payload[0:8], groupID[:])
		binary.BigEndian.PutUint16(payload[8:10], uint16(i))
		binary.BigEndian.PutUint16(payload[10:12], uint16(total))
		payload[12] = byte(parent.Type)
		copy(payload[fragmentHeaderSize:], chunk)

		fragments = append(fragments, &Packet{
			Version:     parent.Version,
			Type:        TypeFragment,
			TTL:         parent.TTL,
			Timestamp:   parent.Timestamp,
			SenderID:    parent.SenderID,
			RecipientID: parent.RecipientID,
			Payload:     payload,
		})
	}

	return fragments, nil
}

// fragmentGroup accumulates chunks for one groupID.
type fragmentGroup struct {
	total   int
	chunks  map[uint16][]byte
	created time.Time
}

// Reassembler reconstitutes packets split by Split. A background sweep
// drops groups that have not completed within FragmentGroupTimeout,
// generalizing the expiry-map-plus-sweeper-goroutine shape used elsewhere
// in the codebase for bounded, time-keyed state.
type Reassembler struct {
	mu      sync.Mutex
	groups  map[[8]byte]*fragmentGroup
	timeout time.Duration
	done    chan struct{}
}

// NewReassembler creates a reassembler and starts its cleanup sweep.
func NewReassembler() *Reassembler {
	r := &Reassembler{
		groups:  make(map[[8]byte]*fragmentGroup),
		timeout: FragmentGroupTimeout,
		done:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// sweepLoop runs sweep every FragmentSweepInterval until Stop is called.
func (r *Reassembler) sweepLoop() {
	ticker := time.NewTicker(FragmentSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.done:
			return
		}
	}
}

func (r *Reassembler) sweep() {
	cutoff := time.Now().Add(-r.timeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, g := range r.groups {
		if g.created.Before(cutoff) {
			delete(r.groups, id)
		}
	}
}

// Stop halts the background sweep goroutine.
func (r *Reassembler) Stop() {
	close(r.done)
}

// Add ingests one FRAGMENT packet. When the group completes, the
// reassembled bytes are decoded as a fresh Packet and returned with
// complete=true; the group is then discarded. A group that never
// completes within FragmentGroupTimeout is purged with no delivery.
func (r *Reassembler) Add(frag *Packet) (parent *Packet, complete bool, err error) {
	if frag.Type != TypeFragment {
		return nil, false, ErrMalformed
	}
	if len(frag.Payload) < fragmentHeaderSize {
		return nil, false, ErrMalformed
	}

	var groupID [8]byte
	copy(groupID[:], frag.Payload[0:8])
	index := binary.BigEndian.Uint16(frag.Payload[8:10])
	total := binary.BigEndian.Uint16(frag.Payload[10:12])
	chunk := append([]byte(nil), frag.Payload[fragmentHeaderSize:]...)

	if total == 0 || index >= total {
		return nil, false, ErrMalformed
	}

	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		g = &fragmentGroup{
			total:   int(total),
			chunks:  make(map[uint16][]byte),
			created: time.Now(),
		}
		r.groups[groupID] = g
	}
	g.chunks[index] = chunk
	done := len(g.chunks) == g.total
	if done {
		delete(r.groups, groupID)
	}
	r.mu.Unlock()

	if !done {
		return nil, false, nil
	}

	var full []byte
	for i := 0; i < g.total; i++ {
		full = append(full, g.chunks[uint16(i)]...)
	}

	parent, err = Decode(full)
	if err != nil {
		return nil, false, err
	}
	return parent, true, nil
}

// PendingGroups reports the number of fragment groups currently awaiting
// completion. Exposed for tests and introspection only.
func (r *Reassembler) PendingGroups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
