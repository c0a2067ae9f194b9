package gossip

import (
	"testing"

	"github.com/vaultmesh/core/protocol"
)

func makePacket(senderByte byte, ts uint64, payload string) *protocol.Packet {
	return &protocol.Packet{
		Version:   protocol.Version2,
		Type:      protocol.TypeMessage,
		TTL:       5,
		Timestamp: ts,
		SenderID:  protocol.PeerID{senderByte},
		Payload:   []byte(payload),
	}
}

func TestSyncStoreInsertAndCandidates(t *testing.T) {
	s := NewSyncStore()
	p1 := makePacket(1, 100, "m1")
	p2 := makePacket(2, 200, "m2")

	s.Insert(protocol.SyncClassMessage, p1)
	s.Insert(protocol.SyncClassMessage, p2)

	candidates := s.Candidates([]protocol.SyncClass{protocol.SyncClassMessage})
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
}

func TestSyncStoreDeduplicatesSameID(t *testing.T) {
	s := NewSyncStore()
	p := makePacket(1, 100, "m1")

	s.Insert(protocol.SyncClassMessage, p)
	s.Insert(protocol.SyncClassMessage, p)

	ids := s.LocalIDs([]protocol.SyncClass{protocol.SyncClassMessage})
	if len(ids) != 1 {
		t.Fatalf("expected 1 unique id, got %d", len(ids))
	}
}

func TestSyncStoreClassesAreIndependent(t *testing.T) {
	s := NewSyncStore()
	s.Insert(protocol.SyncClassMessage, makePacket(1, 100, "m1"))
	s.Insert(protocol.SyncClassFragment, makePacket(2, 200, "f1"))

	if len(s.Candidates([]protocol.SyncClass{protocol.SyncClassMessage})) != 1 {
		t.Fatal("expected one message candidate")
	}
	if len(s.Candidates([]protocol.SyncClass{protocol.SyncClassFragment})) != 1 {
		t.Fatal("expected one fragment candidate")
	}
	if len(s.Candidates([]protocol.SyncClass{protocol.SyncClassFileTransfer})) != 0 {
		t.Fatal("expected no file-transfer candidates")
	}
}

// TestSyncStoreAnnounceIsKeyedBySender verifies a second ANNOUNCE from
// the same sender replaces the first rather than accumulating
// alongside it -- unlike every other class, which is a plain ID-keyed
// FIFO.
func TestSyncStoreAnnounceIsKeyedBySender(t *testing.T) {
	s := NewSyncStore()

	first := makePacket(7, 100, "announce-1")
	first.Type = protocol.TypeAnnounce
	s.Insert(protocol.SyncClassAnnounce, first)

	second := makePacket(7, 200, "announce-2")
	second.Type = protocol.TypeAnnounce
	s.Insert(protocol.SyncClassAnnounce, second)

	candidates := s.Candidates([]protocol.SyncClass{protocol.SyncClassAnnounce})
	if len(candidates) != 1 {
		t.Fatalf("expected exactly 1 announcement retained for the sender, got %d", len(candidates))
	}
	if string(candidates[0].Payload) != "announce-2" {
		t.Fatalf("expected the newer announcement to survive, got payload %q", candidates[0].Payload)
	}

	// A different sender's announcement coexists independently.
	other := makePacket(8, 150, "announce-other")
	other.Type = protocol.TypeAnnounce
	s.Insert(protocol.SyncClassAnnounce, other)

	candidates = s.Candidates([]protocol.SyncClass{protocol.SyncClassAnnounce})
	if len(candidates) != 2 {
		t.Fatalf("expected 2 announcements across 2 senders, got %d", len(candidates))
	}
}
