package radio

import (
	"bytes"
	"testing"
	"time"

	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/relay"
)

func samplePacketForBroadcast(ttl uint8, payload []byte) *protocol.Packet {
	return &protocol.Packet{
		Version:   protocol.Version2,
		Type:      protocol.TypeMessage,
		TTL:       ttl,
		Timestamp: 1,
		SenderID:  protocol.PeerID{0x01},
		Payload:   payload,
	}
}

func waitForTransfer(t *testing.T, b *Broadcaster, payload []byte) {
	t.Helper()
	done := make(chan string, 1)
	b.onComplete = func(transferID string) { done <- transferID }

	if err := b.Send(samplePacketForBroadcast(5, payload), nil, "xfer-1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast completion")
	}
}

func TestBroadcastDeliversToConnectedLink(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Node("a")
	b := mesh.Node("b")

	linkOnA, _ := mesh.Connect("a", "b")
	trackerA := NewConnectionTracker()
	trackerA.AddLink(linkOnA, RolePeripheral)

	var received []byte
	b.SetNotifyHandler(func(link relay.LinkID, data []byte) {
		received = append([]byte{}, data...)
	})

	broadcaster := NewBroadcaster(a, a, trackerA)
	broadcaster.Start()
	defer broadcaster.Stop()

	waitForTransfer(t, broadcaster, []byte("hello mesh"))

	if !bytes.Contains(received, []byte("hello mesh")) {
		t.Fatalf("expected notified payload to contain the message, got %q", received)
	}
}

func TestBroadcastSkipsListedLinks(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Node("a")
	b := mesh.Node("b")
	c := mesh.Node("c")

	linkToB, _ := mesh.Connect("a", "b")
	linkToC, _ := mesh.Connect("a", "c")

	trackerA := NewConnectionTracker()
	trackerA.AddLink(linkToB, RolePeripheral)
	trackerA.AddLink(linkToC, RolePeripheral)

	var bReceived, cReceived bool
	b.SetNotifyHandler(func(link relay.LinkID, data []byte) { bReceived = true })
	c.SetNotifyHandler(func(link relay.LinkID, data []byte) { cReceived = true })

	broadcaster := NewBroadcaster(a, a, trackerA)
	broadcaster.Start()
	defer broadcaster.Stop()

	done := make(chan string, 1)
	broadcaster.onComplete = func(transferID string) { done <- transferID }
	skip := map[relay.LinkID]bool{linkToB: true}
	if err := broadcaster.Send(samplePacketForBroadcast(5, []byte("skip test")), skip, "xfer-2"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast completion")
	}

	if bReceived {
		t.Fatal("expected link to b to be skipped")
	}
	if !cReceived {
		t.Fatal("expected link to c to receive the broadcast")
	}
}

func TestBroadcastFragmentsLargePayload(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Node("a")
	b := mesh.Node("b")

	linkOnA, _ := mesh.Connect("a", "b")
	trackerA := NewConnectionTracker()
	trackerA.AddLink(linkOnA, RolePeripheral)

	var frameCount int
	b.SetNotifyHandler(func(link relay.LinkID, data []byte) { frameCount++ })

	broadcaster := NewBroadcaster(a, a, trackerA)
	broadcaster.Start()
	defer broadcaster.Stop()

	// xorshift32 filler: incompressible, stays above the fragmentation
	// threshold after zlib.
	large := make([]byte, 2000)
	x := uint32(2463534242)
	for i := range large {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		large[i] = byte(x)
	}
	waitForTransfer(t, broadcaster, large)

	if frameCount < 2 {
		t.Fatalf("expected a large payload to be delivered as multiple fragments, got %d frames", frameCount)
	}
}
