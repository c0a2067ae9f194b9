package core

import (
	"testing"
	"time"

	"github.com/vaultmesh/core/noise"
	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/radio"
)

func TestQueueOutboxDropsOldestWhenFull(t *testing.T) {
	mesh := radio.NewMesh()
	backend := initTestBackend(t, mesh, "alice", "Alice")

	peerID := protocol.PeerID{3, 3, 3, 3, 3, 3, 3, 3}
	for i := 0; i < handshakeOutboxLimit+5; i++ {
		var id [16]byte
		id[0] = byte(i)
		backend.queueOutbox(peerID, id, []byte("payload"))
	}

	backend.outboxMu.Lock()
	entries := backend.outbox[peerID]
	backend.outboxMu.Unlock()

	if len(entries) != handshakeOutboxLimit {
		t.Fatalf("expected outbox bounded at %d entries, got %d", handshakeOutboxLimit, len(entries))
	}
	if entries[0].messageID[0] != byte(5) {
		t.Fatalf("expected the oldest 5 entries dropped, oldest surviving id byte is %d", entries[0].messageID[0])
	}
}

func TestEstablishSessionOnlyLowerPeerIDInitiates(t *testing.T) {
	mesh := radio.NewMesh()
	alice := initTestBackend(t, mesh, "alice", "Alice")
	bob := initTestBackend(t, mesh, "bob", "Bob")
	if _, _, err := alice.Start(""); err != nil {
		t.Fatalf("alice.Start: %v", err)
	}
	defer alice.Stop()
	if _, _, err := bob.Start(""); err != nil {
		t.Fatalf("bob.Start: %v", err)
	}
	defer bob.Stop()

	lower, higher := alice, bob
	if !alice.peerID.Less(bob.peerID) {
		lower, higher = bob, alice
	}

	// higher must not initiate against lower: its call is a documented
	// no-op, leaving the session at StateNone so the peer's own message
	// 1 can still arrive.
	if err := higher.establishSession(lower.peerID); err != nil {
		t.Fatalf("higher.establishSession: %v", err)
	}
	if state := higher.noiseMgr.State(sessionKeyBackend(lower.peerID)); state != noise.StateNone {
		t.Fatalf("expected higher's session to remain StateNone, got %v", state)
	}
}

// TestSendEstablishesSessionAndFlushesOutbox drives a full Noise
// handshake between two directly-linked backends entirely through the
// capability API: a private send() before any session exists queues
// the message, triggers the handshake, and the message is delivered --
// decrypted -- once the handshake completes.
func TestSendEstablishesSessionAndFlushesOutbox(t *testing.T) {
	mesh := radio.NewMesh()
	alice := initTestBackend(t, mesh, "alice", "Alice")
	bob := initTestBackend(t, mesh, "bob", "Bob")

	received := make(chan []byte, 1)
	var initiator, responder *Backend
	if alice.peerID.Less(bob.peerID) {
		initiator, responder = alice, bob
	} else {
		initiator, responder = bob, alice
	}
	responder.Events.OnReceived = func(peerID protocol.PeerID, content []byte, isPrivate bool) {
		if isPrivate {
			received <- content
		}
	}

	if _, _, err := alice.Start(""); err != nil {
		t.Fatalf("alice.Start: %v", err)
	}
	defer alice.Stop()
	if _, _, err := bob.Start(""); err != nil {
		t.Fatalf("bob.Start: %v", err)
	}
	defer bob.Stop()

	linkOnAlice, linkOnBob := mesh.Connect("alice", "bob")
	alice.tracker.AddLink(linkOnAlice, radio.RolePeripheral)
	bob.tracker.AddLink(linkOnBob, radio.RoleCentral)

	if _, err := initiator.send([]byte("secret"), responder.peerID); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case content := <-received:
		if string(content) != "secret" {
			t.Fatalf("expected %q, got %q", "secret", content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the handshake to complete and the message to flush")
	}

	if initiator.noiseMgr.State(sessionKeyBackend(responder.peerID)) != noise.StateEstablished {
		t.Fatal("expected the initiator's session to reach StateEstablished")
	}
	if responder.noiseMgr.State(sessionKeyBackend(initiator.peerID)) != noise.StateEstablished {
		t.Fatal("expected the responder's session to reach StateEstablished")
	}

	initiator.outboxMu.Lock()
	remaining := len(initiator.outbox[responder.peerID])
	initiator.outboxMu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected the outbox to be drained after flush, has %d entries", remaining)
	}
}
