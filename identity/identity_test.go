package identity

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/vaultmesh/core/store"
)

func TestGenerateStaticKeyPairProducesUsableKey(t *testing.T) {
	kp, err := GenerateStaticKeyPair()
	if err != nil {
		t.Fatalf("GenerateStaticKeyPair: %v", err)
	}
	var zero [32]byte
	if kp.PublicKey == zero {
		t.Fatal("expected non-zero public key")
	}
	if kp.PrivateKey == zero {
		t.Fatal("expected non-zero private key")
	}
}

func TestFingerprintAndPeerIDAreDeterministic(t *testing.T) {
	kp, err := GenerateStaticKeyPair()
	if err != nil {
		t.Fatalf("GenerateStaticKeyPair: %v", err)
	}
	fp1 := Fingerprint(kp.PublicKey)
	fp2 := Fingerprint(kp.PublicKey)
	if fp1 != fp2 {
		t.Fatal("fingerprint is not deterministic")
	}
	if len(fp1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp1))
	}

	id := PeerID(kp.PublicKey)
	if bytes.Equal(id[:], make([]byte, 8)) {
		t.Fatal("expected non-zero peer ID")
	}
}

func TestStoreGeneratesAndPersistsKeysAcrossReopen(t *testing.T) {
	backing := store.NewMemoryStore()
	var envelopeKey [32]byte
	envelopeKey[0] = 0xAA

	s1, err := Open(backing, envelopeKey, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s2, err := Open(backing, envelopeKey, nil)
	if err != nil {
		t.Fatalf("Open (reload): %v", err)
	}

	if s1.Static.PublicKey != s2.Static.PublicKey {
		t.Fatal("static public key did not survive reopen")
	}
	if s1.Static.PrivateKey != s2.Static.PrivateKey {
		t.Fatal("static private key did not survive reopen")
	}
	if !bytes.Equal(s1.Signing.PublicKey, s2.Signing.PublicKey) {
		t.Fatal("signing public key did not survive reopen")
	}
}

func TestFavoriteMutualRequiresBothSides(t *testing.T) {
	backing := store.NewMemoryStore()
	var envelopeKey [32]byte
	s, err := Open(backing, envelopeKey, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var peerKey [32]byte
	peerKey[0] = 1

	s.SetFavorite(peerKey, "alice", true)
	if s.IsMutualFavorite(peerKey) {
		t.Fatal("should not be mutual yet")
	}

	s.SetTheyFavoritedUs(peerKey, true)
	if !s.IsMutualFavorite(peerKey) {
		t.Fatal("expected mutual favorite")
	}
}

func TestBlockPersistsAcrossReopen(t *testing.T) {
	backing := store.NewMemoryStore()
	var envelopeKey [32]byte
	s1, err := Open(backing, envelopeKey, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s1.Block("deadbeef")
	s1.ForceSave()

	s2, err := Open(backing, envelopeKey, nil)
	if err != nil {
		t.Fatalf("Open (reload): %v", err)
	}
	if !s2.IsBlocked("deadbeef") {
		t.Fatal("expected blocked fingerprint to survive reopen")
	}
}

func TestBindPeerRejectsIdentityDrift(t *testing.T) {
	backing := store.NewMemoryStore()
	var envelopeKey [32]byte
	s, err := Open(backing, envelopeKey, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	peerID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	var keyA, keyB [32]byte
	keyA[0] = 0x01
	keyB[0] = 0x02

	if !s.BindPeer(peerID, keyA) {
		t.Fatal("first binding should be accepted")
	}
	if s.BindPeer(peerID, keyB) {
		t.Fatal("binding a different static key to the same peer ID should be rejected")
	}

	bound, ok := s.VerifiedStaticKey(peerID)
	if !ok || bound != keyA {
		t.Fatal("expected the original binding to remain in effect")
	}
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	image := []byte("canonical signing image")
	sig := ed25519.Sign(kp.PrivateKey, image)

	if !VerifySignature(kp.PublicKey, image, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifySignature(kp.PublicKey, []byte("tampered"), sig) {
		t.Fatal("expected tampered image to fail verification")
	}
}
