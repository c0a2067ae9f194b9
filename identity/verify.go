package identity

import (
	"crypto/ed25519"
	"encoding/json"
)

// blockedKey is the backing-store key under which the block list is
// persisted, analogous to the favorites blob.
const blockedKey = "blocked_fingerprints"

// VerifySignature checks an Ed25519 signature over a signing image.
func VerifySignature(signingPublicKey ed25519.PublicKey, image []byte, signature []byte) bool {
	if len(signingPublicKey) != ed25519PublicKeySize || len(signature) != 64 {
		return false
	}
	return ed25519.Verify(signingPublicKey, image, signature)
}

// BindPeer records the static public key learned from a peer's first
// verified announcement. A subsequent announcement for the same PeerID
// with a different static key is identity drift and is rejected:
// the announcement is not considered verified and state is not updated.
func (s *Store) BindPeer(peerID [8]byte, staticPublicKey [32]byte) (accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, known := s.verifiedPeers[peerID]
	if known && existing != staticPublicKey {
		return false
	}
	s.verifiedPeers[peerID] = staticPublicKey
	return true
}

// VerifiedStaticKey returns the static public key bound to peerID, if any.
func (s *Store) VerifiedStaticKey(peerID [8]byte) (key [32]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok = s.verifiedPeers[peerID]
	return key, ok
}

// BindSigningKey records the Ed25519 signing key learned from a peer's
// first verified announcement, mirroring BindPeer's drift rejection.
func (s *Store) BindSigningKey(peerID [8]byte, signingPublicKey [32]byte) (accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, known := s.verifiedSigningKeys[peerID]
	if known && existing != signingPublicKey {
		return false
	}
	s.verifiedSigningKeys[peerID] = signingPublicKey
	return true
}

// VerifiedSigningKey returns the Ed25519 signing key bound to peerID, if any.
func (s *Store) VerifiedSigningKey(peerID [8]byte) (key [32]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok = s.verifiedSigningKeys[peerID]
	return key, ok
}

// Block marks a fingerprint as blocked. Blocked peers' broadcast messages
// are dropped at the router.
func (s *Store) Block(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[fingerprint] = true
	s.scheduleSave()
}

// Unblock removes a fingerprint from the block list.
func (s *Store) Unblock(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked, fingerprint)
	s.scheduleSave()
}

// IsBlocked reports whether fingerprint is on the block list.
func (s *Store) IsBlocked(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked[fingerprint]
}

func (s *Store) snapshotBlocked() []string {
	out := make([]string, 0, len(s.blocked))
	for fp := range s.blocked {
		out = append(out, fp)
	}
	return out
}

func (s *Store) saveBlocked(fingerprints []string) error {
	data, err := json.Marshal(fingerprints)
	if err != nil {
		return err
	}
	return s.putEncrypted(blockedKey, data)
}

func (s *Store) loadBlocked() error {
	data, ok := s.getDecrypted(blockedKey)
	if !ok {
		return nil
	}
	var fingerprints []string
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		return err
	}
	s.mu.Lock()
	for _, fp := range fingerprints {
		s.blocked[fp] = true
	}
	s.mu.Unlock()
	return nil
}
