package noise

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vaultmesh/core/protocol"
)

// runHandshake drives a complete mutual handshake between two managers
// and returns once both sides report Established, mirroring scenario S1.
func runHandshake(t *testing.T, a, b *Manager, fpA, fpB string, idA, idB protocol.PeerID) {
	t.Helper()

	msg1, err := a.InitiateHandshake(fpB, idB)
	if err != nil {
		t.Fatalf("A InitiateHandshake: %v", err)
	}

	msg2, err := b.HandleMessage1(fpA, idA, msg1)
	if err != nil {
		t.Fatalf("B HandleMessage1: %v", err)
	}

	msg3, err := a.HandleMessage2(fpB, msg2)
	if err != nil {
		t.Fatalf("A HandleMessage2: %v", err)
	}

	if err := b.HandleMessage3(fpA, msg3); err != nil {
		t.Fatalf("B HandleMessage3: %v", err)
	}

	if a.State(fpB) != StateEstablished {
		t.Fatalf("expected A established, got state %v", a.State(fpB))
	}
	if b.State(fpA) != StateEstablished {
		t.Fatalf("expected B established, got state %v", b.State(fpA))
	}
}

func TestScenarioHandshakeAndPrivateMessage(t *testing.T) {
	idA := protocol.PeerID{0x0a}
	idB := protocol.PeerID{0xf3}

	aPriv, aPub, err := generateEphemeral()
	if err != nil {
		t.Fatalf("generate A: %v", err)
	}
	bPriv, bPub, err := generateEphemeral()
	if err != nil {
		t.Fatalf("generate B: %v", err)
	}

	a := NewManager(aPriv, aPub, idA)
	b := NewManager(bPriv, bPub, idB)

	const fpA, fpB = "peer-a", "peer-b"
	runHandshake(t, a, b, fpA, fpB, idA, idB)

	plaintext := []byte("hi")
	ciphertext, err := a.Encrypt(fpB, plaintext)
	if err != nil {
		t.Fatalf("A Encrypt: %v", err)
	}
	decrypted, err := b.Decrypt(fpA, ciphertext)
	if err != nil {
		t.Fatalf("B Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("private message payload mismatch")
	}

	delivered := []byte("DELIVERED")
	ack, err := b.Encrypt(fpA, delivered)
	if err != nil {
		t.Fatalf("B Encrypt ack: %v", err)
	}
	ackDecrypted, err := a.Decrypt(fpB, ack)
	if err != nil {
		t.Fatalf("A Decrypt ack: %v", err)
	}
	if !bytes.Equal(ackDecrypted, delivered) {
		t.Fatal("delivered ack payload mismatch")
	}
}

func TestHigherPeerIDYieldsOnConcurrentInitiation(t *testing.T) {
	idA := protocol.PeerID{0x0a}
	idB := protocol.PeerID{0xf3}

	aPriv, aPub, _ := generateEphemeral()
	bPriv, bPub, _ := generateEphemeral()

	a := NewManager(aPriv, aPub, idA)
	b := NewManager(bPriv, bPub, idB)

	const fpA, fpB = "peer-a", "peer-b"

	// B (higher ID) may not call InitiateHandshake; verify that doing so
	// is rejected. Then force B's session into Initiated, as if its own
	// message 1 were already in flight, and verify that B yields and
	// responds to A's message 1.
	if _, err := b.InitiateHandshake(fpA, idA); err != ErrInvalidState {
		t.Fatalf("expected higher-ID initiation to be rejected, got %v", err)
	}
	forced := b.getOrCreate(fpA)
	forced.mu.Lock()
	forced.State = StateInitiated
	forced.Role = RoleInitiator
	forced.mu.Unlock()

	msg1, err := a.InitiateHandshake(fpB, idB)
	if err != nil {
		t.Fatalf("A InitiateHandshake: %v", err)
	}
	if _, err := b.HandleMessage1(fpA, idA, msg1); err != nil {
		t.Fatalf("B HandleMessage1: %v", err)
	}
	if b.State(fpA) != StateResponded {
		t.Fatalf("expected B responded, got %v", b.State(fpA))
	}
}

func TestOnlyOneEstablishedSessionPerFingerprint(t *testing.T) {
	idA := protocol.PeerID{0x0a}
	idB := protocol.PeerID{0xf3}

	aPriv, aPub, _ := generateEphemeral()
	bPriv, bPub, _ := generateEphemeral()

	a := NewManager(aPriv, aPub, idA)
	b := NewManager(bPriv, bPub, idB)

	const fpA, fpB = "peer-a", "peer-b"
	runHandshake(t, a, b, fpA, fpB, idA, idB)

	// Re-initiating after establishment must be rejected: state is no
	// longer None.
	if _, err := a.InitiateHandshake(fpB, idB); err != ErrInvalidState {
		t.Fatalf("expected re-initiation on an established session to be rejected, got %v", err)
	}
}

func TestEncryptRejectsOversizedPlaintext(t *testing.T) {
	idA := protocol.PeerID{0x0a}
	idB := protocol.PeerID{0xf3}

	aPriv, aPub, _ := generateEphemeral()
	bPriv, bPub, _ := generateEphemeral()

	a := NewManager(aPriv, aPub, idA)
	b := NewManager(bPriv, bPub, idB)

	const fpA, fpB = "peer-a", "peer-b"
	runHandshake(t, a, b, fpA, fpB, idA, idB)

	oversized := make([]byte, MaxTransportMessage+1)
	if _, err := a.Encrypt(fpB, oversized); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}

	atLimit := make([]byte, MaxTransportMessage)
	if _, err := a.Encrypt(fpB, atLimit); err != nil {
		t.Fatalf("expected a plaintext at exactly the limit to be accepted, got %v", err)
	}
}

func TestDecryptRejectsOversizedCiphertext(t *testing.T) {
	idA := protocol.PeerID{0x0a}
	idB := protocol.PeerID{0xf3}

	aPriv, aPub, _ := generateEphemeral()
	bPriv, bPub, _ := generateEphemeral()

	a := NewManager(aPriv, aPub, idA)
	b := NewManager(bPriv, bPub, idB)

	const fpA, fpB = "peer-a", "peer-b"
	runHandshake(t, a, b, fpA, fpB, idA, idB)

	oversized := make([]byte, MaxTransportMessage+chacha20poly1305.Overhead+1)
	if _, err := b.Decrypt(fpA, oversized); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestHandleMessage1RejectsOversizedHandshakeMessage(t *testing.T) {
	idA := protocol.PeerID{0x0a}
	idB := protocol.PeerID{0xf3}

	bPriv, bPub, _ := generateEphemeral()
	b := NewManager(bPriv, bPub, idB)

	oversized := make([]byte, MaxHandshakeMessage+1)
	if _, err := b.HandleMessage1("peer-a", idA, oversized); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	if b.State("peer-a") != StateNone {
		t.Fatal("expected an oversized message 1 to leave the session untouched")
	}
}
