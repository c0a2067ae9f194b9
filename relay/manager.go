package relay

import (
	"math/rand"
	"sync"

	"github.com/vaultmesh/core/protocol"
)

// LinkID opaquely names one physical connection (a BLE central or
// peripheral link). The concrete link bookkeeping lives in the radio
// package; relay only needs to skip and target links by this handle.
type LinkID string

// Fanout is the subset of the Broadcaster's surface RelayManager needs:
// a skip-aware broadcast, and a direct single-link write for the
// unicast shortcut.
type Fanout interface {
	Broadcast(p *protocol.Packet, skip map[LinkID]bool) error
	SendDirect(link LinkID, p *protocol.Packet) error
}

// LinkResolver maps a peer ID to the directly-connected link carrying
// it, if any. Populated by the ConnectionTracker.
type LinkResolver interface {
	LinkForPeer(id protocol.PeerID) (LinkID, bool)
}

// NetworkSizeEstimator reports the estimated number of reachable peers,
// used to scale relay probability. A static or gossip-derived count is
// expected to be wired in here.
type NetworkSizeEstimator func() int

// probabilityForSize implements the adaptive relay table.
func probabilityForSize(n int) float64 {
	switch {
	case n <= 3:
		return 1.0
	case n <= 10:
		return 1.0
	case n <= 30:
		return 0.85
	case n <= 50:
		return 0.70
	case n <= 100:
		return 0.55
	default:
		return 0.40
	}
}

// importanceTTLFloor is the TTL at or above which a packet is relayed
// unconditionally, regardless of estimated network size.
const importanceTTLFloor = 4

// Manager is the RelayManager: TTL bookkeeping, dedup, adaptive
// probabilistic fanout, and loop/sender suppression. The dedup-then-
// forward shape follows SeenSet above; the adaptive probability/TTL
// table has no prior-art analogue and is implemented directly from the
// wire protocol's relay rules.
type Manager struct {
	seen        *SeenSet
	fanout      Fanout
	links       LinkResolver
	networkSize NetworkSizeEstimator
	localPeerID protocol.PeerID

	mu  sync.Mutex
	rng *rand.Rand
}

// NewManager creates a RelayManager. seenCapacity <= 0 selects the
// default SeenSet bound of 10000.
func NewManager(localPeerID protocol.PeerID, fanout Fanout, links LinkResolver, networkSize NetworkSizeEstimator, seenCapacity int, seed int64) *Manager {
	return &Manager{
		seen:        NewSeenSet(seenCapacity),
		fanout:      fanout,
		links:       links,
		networkSize: networkSize,
		localPeerID: localPeerID,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// SeenCount reports the number of packet IDs currently tracked in the
// dedup set, for introspection surfaces.
func (m *Manager) SeenCount() int {
	return m.seen.Len()
}

// Observe records p in the SeenSet and reports whether it is new. A
// caller must consult this exactly once per received packet, and use
// the result to gate both local delivery and relay eligibility: before
// either, consult SeenSet.
func (m *Manager) Observe(p *protocol.Packet) bool {
	return m.seen.Add(protocol.IDOf(p))
}

// Forward applies the relay algorithm to a packet that is not addressed
// to us and was not originated by us. inboundLink is the link the
// packet arrived on, always excluded from fanout. Forward does not
// consult the SeenSet itself -- callers must have already gated on
// Observe.
func (m *Manager) Forward(p *protocol.Packet, inboundLink LinkID) error {
	if p.TTL == 0 {
		return nil
	}

	relayed := *p
	relayed.TTL--

	if relayed.RecipientID != nil && !relayed.RecipientID.IsBroadcast() {
		if link, ok := m.links.LinkForPeer(*relayed.RecipientID); ok {
			return m.fanout.SendDirect(link, &relayed)
		}
	}

	if relayed.TTL < importanceTTLFloor {
		if !m.sample() {
			return nil
		}
	}

	skip := map[LinkID]bool{inboundLink: true}
	if link, ok := m.links.LinkForPeer(p.SenderID); ok {
		skip[link] = true
	}
	return m.fanout.Broadcast(&relayed, skip)
}

// sample draws a relay decision from the adaptive probability table,
// scaled by the current estimated network size.
func (m *Manager) sample() bool {
	n := 0
	if m.networkSize != nil {
		n = m.networkSize()
	}
	p := probabilityForSize(n)
	if p >= 1.0 {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < p
}
