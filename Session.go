/*
File Name:  Session.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Peer discovery and Noise session establishment: the capability API's
establishSession, and the onFound/onConnected/onDisconnected/onLost/
onRSSIUpdated/onPeerListUpdated/onEstablished events.
*/

package core

import (
	"time"

	"github.com/vaultmesh/core/noise"
	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/radio"
	"github.com/vaultmesh/core/relay"
	"github.com/vaultmesh/core/router"
)

// stalePeerTimeout mirrors the router's ANNOUNCE freshness window: a
// peer not re-announced within this window is considered lost.
const stalePeerTimeout = 180 * time.Second

// peerSweepInterval is how often the stale-peer sweep runs.
const peerSweepInterval = 30 * time.Second

// sessionKeyBackend keys a Noise session by the remote PeerID's hex
// string, mirroring router.sessionKey: the true fingerprint isn't
// known until a handshake completes, so PeerID is the only identifier
// both sides can agree on up front.
func sessionKeyBackend(peerID protocol.PeerID) string {
	return peerID.String()
}

// establishSession explicitly triggers a Noise handshake with peerID.
// A no-op if a session already exists in any non-None state.
func (backend *Backend) establishSession(peerID protocol.PeerID) error {
	if !backend.isStarted() {
		return ErrNotStarted
	}
	if peerID == (protocol.PeerID{}) {
		return ErrMissingPeerID
	}

	key := sessionKeyBackend(peerID)
	if backend.noiseMgr.State(key) != noise.StateNone {
		return nil
	}
	if !backend.peerID.Less(peerID) {
		// Only the lower PeerID may initiate; wait for the peer's
		// own message 1 instead of failing the call.
		return nil
	}

	msg1, err := backend.noiseMgr.InitiateHandshake(key, peerID)
	if err != nil {
		return err
	}

	p := &protocol.Packet{
		Version:     protocol.Version2,
		Type:        protocol.TypeNoiseHandshake,
		TTL:         1,
		Timestamp:   nowMillisBackend(),
		SenderID:    backend.peerID,
		RecipientID: &peerID,
		Payload:     msg1,
	}
	return backend.broadcaster.Broadcast(p, nil)
}

// onFound is the ScanAdvertiseController discovery callback: it
// reports a sighting through the capability API's onFound event. The
// controller itself decides whether and when to pursue the link.
func (backend *Backend) onFound(adv radio.Advertisement, link relay.LinkID) {
	backend.Events.OnFound(adv)
}

// routerEvents adapts router.Events to the capability API's Events,
// additionally maintaining the peer-liveness registry that drives
// onLost/onPeerListUpdated and flushing the handshake outbox once a
// session completes.
func (backend *Backend) routerEvents() router.Events {
	return router.Events{
		OnPeerAnnounced: func(peerID protocol.PeerID, a *protocol.Announcement) {
			backend.peerSeen(peerID)
		},
		OnPeerLeft: func(peerID protocol.PeerID) {
			backend.peerGone(peerID, false)
		},
		OnReceived: backend.Events.OnReceived,
		OnSent:     backend.Events.OnSent,
		OnReadReceipt: func(peerID protocol.PeerID, messageID [16]byte) {
			// No dedicated capability-API event for delivery receipts yet;
			// logged for visibility.
			backend.LogError("routerEvents", "delivery receipt from %s for %x", peerID.String(), messageID)
		},
		OnFileReceived: func(peerID protocol.PeerID, path string, file *protocol.FilePacket) {
			backend.LogError("routerEvents", "received file '%s' from %s -> %s", file.FileName, peerID.String(), path)
		},
		OnEstablished: func(peerID protocol.PeerID) {
			backend.flushOutbox(peerID)
			backend.Events.OnEstablished(peerID)
		},
	}
}

// peerSeen records the last time peerID was heard from (an ANNOUNCE),
// firing onConnected and onPeerListUpdated the first time a peer is
// seen.
func (backend *Backend) peerSeen(peerID protocol.PeerID) {
	backend.peersMu.Lock()
	_, known := backend.peers[peerID]
	backend.peers[peerID] = time.Now()
	backend.peersMu.Unlock()

	if !known {
		backend.Events.OnConnected(peerID)
		backend.notifyPeerList()
	}
}

// peerGone removes peerID from the liveness registry (a LEAVE or a
// stale-peer sweep) and fires onDisconnected/onLost.
func (backend *Backend) peerGone(peerID protocol.PeerID, timedOut bool) {
	backend.peersMu.Lock()
	_, known := backend.peers[peerID]
	delete(backend.peers, peerID)
	backend.peersMu.Unlock()

	if !known {
		return
	}
	if timedOut {
		backend.Events.OnLost(peerID)
	} else {
		backend.Events.OnDisconnected(peerID)
	}
	backend.notifyPeerList()
}

func (backend *Backend) notifyPeerList() {
	backend.peersMu.Lock()
	list := make([]protocol.PeerID, 0, len(backend.peers))
	for id := range backend.peers {
		list = append(list, id)
	}
	backend.peersMu.Unlock()
	backend.Events.OnPeerListUpdated(list)
}

// sweepStalePeers runs every peerSweepInterval while started, evicting
// peers not heard from within stalePeerTimeout.
func (backend *Backend) sweepStalePeers(stop <-chan struct{}) {
	ticker := time.NewTicker(peerSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			backend.peersMu.Lock()
			var stale []protocol.PeerID
			for id, last := range backend.peers {
				if now.Sub(last) > stalePeerTimeout {
					stale = append(stale, id)
				}
			}
			backend.peersMu.Unlock()
			for _, id := range stale {
				backend.peerGone(id, true)
			}
		}
	}
}
