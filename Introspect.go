/*
File Name:  Introspect.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Read-only snapshots of running state, for introspection surfaces such
as a local debug API. None of these accessors mutate the backend.
*/

package core

import (
	"time"

	"github.com/vaultmesh/core/noise"
)

// PeerInfo is a read-only snapshot of one entry in the peer-liveness
// registry.
type PeerInfo struct {
	PeerID   string    `json:"peerID"`
	LastSeen time.Time `json:"lastSeen"`
}

// PeerList returns a snapshot of every peer currently considered live.
func (backend *Backend) PeerList() []PeerInfo {
	backend.peersMu.Lock()
	defer backend.peersMu.Unlock()

	out := make([]PeerInfo, 0, len(backend.peers))
	for id, last := range backend.peers {
		out = append(out, PeerInfo{PeerID: id.String(), LastSeen: last})
	}
	return out
}

// SessionList returns a snapshot of every tracked Noise session.
func (backend *Backend) SessionList() []noise.SessionInfo {
	return backend.noiseMgr.Sessions()
}

// Stats is a point-in-time snapshot of a running node's vital signs.
type Stats struct {
	PeerID       string `json:"peerID"`
	Nickname     string `json:"nickname"`
	Started      bool   `json:"started"`
	PeerCount    int    `json:"peerCount"`
	LinkCount    int    `json:"linkCount"`
	SessionCount int    `json:"sessionCount"`
	OutboxDepth  int    `json:"outboxDepth"`
	SeenCount    int    `json:"seenCount"`
}

// Stats reports a snapshot of the node's current vital signs.
func (backend *Backend) Stats() Stats {
	backend.peersMu.Lock()
	peerCount := len(backend.peers)
	backend.peersMu.Unlock()

	backend.outboxMu.Lock()
	outboxDepth := 0
	for _, entries := range backend.outbox {
		outboxDepth += len(entries)
	}
	backend.outboxMu.Unlock()

	return Stats{
		PeerID:       backend.peerID.String(),
		Nickname:     backend.Config.Nickname,
		Started:      backend.isStarted(),
		PeerCount:    peerCount,
		LinkCount:    len(backend.tracker.Links()),
		SessionCount: len(backend.noiseMgr.Sessions()),
		OutboxDepth:  outboxDepth,
		SeenCount:    backend.relayMgr.SeenCount(),
	}
}
