package radio

import (
	"sync"
	"time"

	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/relay"
)

// Role distinguishes which side of a link this device plays.
type Role int

const (
	RolePeripheral Role = iota
	RoleCentral
)

type linkInfo struct {
	role        Role
	peerID      *protocol.PeerID
	rssi        int
	subscribed  bool
	wireVersion uint8
	lastSeen    time.Time
}

// defaultWireVersion is used for a peer never seen before (Open Question
// 2's decision, recorded in DESIGN.md).
const defaultWireVersion = protocol.Version2

// ConnectionTracker indexes central-role and peripheral-role links, RSSI,
// and the peerID<->link mapping. It
// implements relay.LinkResolver so RelayManager can resolve a direct
// neighbor without knowing about the radio layer.
type ConnectionTracker struct {
	mu     sync.RWMutex
	links  map[relay.LinkID]*linkInfo
	byPeer map[protocol.PeerID]relay.LinkID
}

// NewConnectionTracker creates an empty tracker.
func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{
		links:  make(map[relay.LinkID]*linkInfo),
		byPeer: make(map[protocol.PeerID]relay.LinkID),
	}
}

// AddLink registers a newly-established link in the given role.
func (t *ConnectionTracker) AddLink(id relay.LinkID, role Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.links[id] = &linkInfo{role: role, wireVersion: defaultWireVersion, lastSeen: time.Now()}
}

// RemoveLink drops a link and any peerID binding pointing to it.
func (t *ConnectionTracker) RemoveLink(id relay.LinkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.links[id]
	if !ok {
		return
	}
	if info.peerID != nil {
		if bound, ok := t.byPeer[*info.peerID]; ok && bound == id {
			delete(t.byPeer, *info.peerID)
		}
	}
	delete(t.links, id)
}

// BindPeer associates a link with the peerID learned on it (typically
// from a verified ANNOUNCE).
func (t *ConnectionTracker) BindPeer(id relay.LinkID, peerID protocol.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.links[id]
	if !ok {
		return
	}
	info.peerID = &peerID
	t.byPeer[peerID] = id
}

// MarkSubscribed records that the central on a peripheral-role link has
// subscribed to the notify characteristic (CCCD write), making the peer
// addressable.
func (t *ConnectionTracker) MarkSubscribed(id relay.LinkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.links[id]; ok {
		info.subscribed = true
	}
}

// UpdateRSSI records the latest RSSI reading for a link.
func (t *ConnectionTracker) UpdateRSSI(id relay.LinkID, rssi int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.links[id]; ok {
		info.rssi = rssi
		info.lastSeen = time.Now()
	}
}

// RSSI returns the last-known RSSI for a link.
func (t *ConnectionTracker) RSSI(id relay.LinkID) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.links[id]
	if !ok {
		return 0, false
	}
	return info.rssi, true
}

// LinkForPeer implements relay.LinkResolver: the directly-connected link
// carrying peerID, if any.
func (t *ConnectionTracker) LinkForPeer(peerID protocol.PeerID) (relay.LinkID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byPeer[peerID]
	return id, ok
}

// RoleOf reports which role a link plays, for the Broadcaster to decide
// between Peripheral.Notify and Central.Write.
func (t *ConnectionTracker) RoleOf(id relay.LinkID) (Role, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.links[id]
	if !ok {
		return 0, false
	}
	return info.role, ok
}

// Links returns every currently tracked link ID, eligible fanout
// targets for the Broadcaster.
func (t *ConnectionTracker) Links() []relay.LinkID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]relay.LinkID, 0, len(t.links))
	for id := range t.links {
		ids = append(ids, id)
	}
	return ids
}

// SetWireVersion records a wire version for a peer (Open Question 2). No
// caller in this module sets it from received frames, and the encoders do
// not read it: outbound packets are always encoded as v2.
func (t *ConnectionTracker) SetWireVersion(peerID protocol.PeerID, version uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPeer[peerID]
	if !ok {
		return
	}
	if info, ok := t.links[id]; ok {
		info.wireVersion = version
	}
}

// WireVersion returns the last-seen wire version for a peer, defaulting
// to v2 for an unseen peer.
func (t *ConnectionTracker) WireVersion(peerID protocol.PeerID) uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byPeer[peerID]
	if !ok {
		return defaultWireVersion
	}
	if info, ok := t.links[id]; ok {
		return info.wireVersion
	}
	return defaultWireVersion
}
