/*
File Name:  Start.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The remaining Supervisor lifecycle calls: start, the idempotent
stop, and the panic-clear wipe.
*/

package core

import (
	"crypto/ed25519"
	"time"

	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/sanitize"
)

// Start transitions an initialized backend into the active state: it
// launches the broadcaster, scan/advertise controller, gossip sync
// timers, and the stale-peer sweep, then announces this node's
// presence. nickname overrides the configured one if non-empty.
func (backend *Backend) Start(nickname string) (peerID protocol.PeerID, status int, err error) {
	if !backend.isInitialized() {
		return peerID, ExitNotInitialized, ErrNotInitialized
	}

	backend.mu.Lock()
	if backend.state == stateStarted {
		backend.mu.Unlock()
		return backend.peerID, ExitSuccess, nil
	}
	backend.state = stateStarted
	backend.mu.Unlock()

	if nickname != "" {
		backend.Config.Nickname = sanitize.Username(nickname)
		backend.saveConfig()
	}

	backend.stopCh = make(chan struct{})

	backend.broadcaster.Start()
	if serr := backend.scanAdv.Start(); serr != nil {
		backend.LogError("Start", "scan/advertise controller: %v", serr)
	}
	backend.gossipSync.Start()
	go backend.sweepStalePeers(backend.stopCh)

	if serr := backend.sendAnnounce(); serr != nil {
		backend.LogError("Start", "sending announce: %v", serr)
	}

	backend.Events.OnStarted(backend.peerID)
	return backend.peerID, ExitSuccess, nil
}

// sendAnnounce broadcasts a signed ANNOUNCE carrying this node's
// current nickname and both public keys.
func (backend *Backend) sendAnnounce() error {
	announcement := &protocol.Announcement{
		Nickname:         backend.Config.Nickname,
		NoisePublicKey:   backend.identity.Static.PublicKey,
		SigningPublicKey: [32]byte(backend.identity.Signing.PublicKey),
	}

	p := &protocol.Packet{
		Version:   protocol.Version2,
		Type:      protocol.TypeAnnounce,
		TTL:       8,
		Timestamp: nowMillisBackend(),
		SenderID:  backend.peerID,
		Payload:   protocol.EncodeAnnouncement(announcement),
	}

	image, err := protocol.SigningImage(p)
	if err != nil {
		return err
	}
	p.Signature = ed25519.Sign(backend.identity.Signing.PrivateKey, image)

	return backend.broadcaster.Broadcast(p, nil)
}

// Stop idempotently deactivates the backend: it stops the broadcaster,
// the scan/advertise controller, gossip timers, and the stale-peer
// sweep, then persists any pending identity changes. A second call is
// a no-op.
func (backend *Backend) Stop() {
	backend.mu.Lock()
	if backend.state != stateStarted {
		backend.mu.Unlock()
		return
	}
	backend.state = stateInitialized
	stopCh := backend.stopCh
	backend.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	backend.broadcaster.Stop()
	backend.scanAdv.Stop()
	backend.gossipSync.Stop()
	backend.identity.ForceSave()

	backend.Events.OnStopped()
}

// PanicClear wipes the local identity, every derived peer-verification
// and favorite record, and every live Noise session, then generates a
// fresh key pair -- the distinct "forget everything and start over"
// operation, separate from a graceful Stop. The backend
// is left initialized but stopped; the caller must Start it again.
func (backend *Backend) PanicClear() error {
	backend.Stop()

	if err := backend.identity.Wipe(); err != nil {
		return err
	}
	backend.noiseMgr.WipeAll()

	backend.peerID = protocol.PeerID(backend.identity.PeerID())

	backend.peersMu.Lock()
	backend.peers = make(map[protocol.PeerID]time.Time)
	backend.peersMu.Unlock()

	backend.outboxMu.Lock()
	backend.outbox = make(map[protocol.PeerID][]outboxEntry)
	backend.outboxMu.Unlock()

	return nil
}
