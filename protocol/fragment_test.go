package protocol

import (
	"bytes"
	"testing"
)

func bigPacket(size int) *Packet {
	// xorshift32 filler: deterministic and incompressible, so zlib cannot
	// shrink the encoding below the fragmentation trigger.
	payload := make([]byte, size)
	x := uint32(2463534242)
	for i := range payload {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		payload[i] = byte(x)
	}
	return &Packet{
		Version:   Version2,
		Type:      TypeMessage,
		TTL:       4,
		Timestamp: 1700000000000,
		SenderID:  PeerID{1, 1, 1, 1, 1, 1, 1, 1},
		Payload:   payload,
	}
}

func TestSplitNotNeededForSmallPacket(t *testing.T) {
	p := &Packet{
		Version:   Version2,
		Type:      TypeMessage,
		SenderID:  PeerID{1},
		Payload:   []byte("small"),
	}
	frags, err := Split(p)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if frags != nil {
		t.Fatalf("expected no fragmentation, got %d fragments", len(frags))
	}
}

func TestSplitAndReassemble(t *testing.T) {
	// Incompressible payload (random-looking but deterministic) so the
	// encoded size stays proportional to the raw size.
	parent := bigPacket(3000)

	frags, err := Split(parent)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}

	expected, err := Encode(parent, false)
	if err != nil {
		t.Fatalf("Encode parent: %v", err)
	}

	var reconstructed []byte
	for _, f := range frags {
		if f.Type != TypeFragment {
			t.Fatalf("fragment has wrong type %v", f.Type)
		}
		reconstructed = append(reconstructed, f.Payload[fragmentHeaderSize:]...)
	}
	if !bytes.Equal(reconstructed, expected) {
		t.Fatal("concatenated fragment payloads do not equal unpadded parent encoding")
	}

	r := NewReassembler()
	defer r.Stop()

	var result *Packet
	for i, f := range frags {
		parentOut, complete, err := r.Add(f)
		if err != nil {
			t.Fatalf("Add fragment %d: %v", i, err)
		}
		if i < len(frags)-1 {
			if complete {
				t.Fatalf("fragment %d unexpectedly completed the group", i)
			}
			continue
		}
		if !complete {
			t.Fatal("final fragment did not complete the group")
		}
		result = parentOut
	}

	if result == nil {
		t.Fatal("reassembly produced no packet")
	}
	if !bytes.Equal(result.Payload, parent.Payload) {
		t.Fatal("reassembled packet payload mismatch")
	}
	if result.SenderID != parent.SenderID {
		t.Fatal("reassembled packet sender mismatch")
	}
}

func TestReassemblerOutOfOrder(t *testing.T) {
	parent := bigPacket(2000)
	frags, err := Split(parent)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}

	r := NewReassembler()
	defer r.Stop()

	for i := len(frags) - 1; i >= 0; i-- {
		parentOut, complete, err := r.Add(frags[i])
		if err != nil {
			t.Fatalf("Add fragment %d: %v", i, err)
		}
		if i == 0 {
			if !complete {
				t.Fatal("expected completion after last fragment arrives")
			}
			if !bytes.Equal(parentOut.Payload, parent.Payload) {
				t.Fatal("out-of-order reassembly payload mismatch")
			}
		}
	}
}

func TestReassemblerRejectsBadHeader(t *testing.T) {
	r := NewReassembler()
	defer r.Stop()

	bad := &Packet{Type: TypeFragment, Payload: []byte{1, 2, 3}}
	if _, _, err := r.Add(bad); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestPendingGroupsTracksIncompleteGroups(t *testing.T) {
	parent := bigPacket(2000)
	frags, err := Split(parent)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := NewReassembler()
	defer r.Stop()

	if _, _, err := r.Add(frags[0]); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := r.PendingGroups(); got != 1 {
		t.Fatalf("expected 1 pending group, got %d", got)
	}
}
