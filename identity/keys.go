// Package identity manages a peer's cryptographic identity: its static
// (X25519) and signing (Ed25519) key pairs, their persistence, and the
// favorites/verification table used to recognize other peers across
// sessions.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/curve25519"
)

// StaticKeyPair is the X25519 key pair used for Noise handshakes and for
// deriving a peer's Fingerprint and PeerID.
type StaticKeyPair struct {
	PrivateKey [32]byte
	PublicKey  [32]byte
}

// SigningKeyPair is the Ed25519 key pair used to sign announcements and
// other relay-stable payloads.
type SigningKeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// GenerateStaticKeyPair creates a new X25519 key pair.
func GenerateStaticKeyPair() (StaticKeyPair, error) {
	var kp StaticKeyPair
	if _, err := rand.Read(kp.PrivateKey[:]); err != nil {
		return kp, err
	}
	// Clamp per RFC 7748 so curve25519.X25519 treats it as a valid scalar.
	kp.PrivateKey[0] &= 248
	kp.PrivateKey[31] &= 127
	kp.PrivateKey[31] |= 64

	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return kp, err
	}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// GenerateSigningKeyPair creates a new Ed25519 key pair.
func GenerateSigningKeyPair() (SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeyPair{}, err
	}
	return SigningKeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// Fingerprint returns the lowercase 64-hex SHA-256 digest of a static
// public key.
func Fingerprint(staticPublicKey [32]byte) string {
	sum := sha256.Sum256(staticPublicKey[:])
	return hex.EncodeToString(sum[:])
}

// PeerID returns the 8-byte short identifier derived from the first 8
// bytes of the static public key's SHA-256 digest.
func PeerID(staticPublicKey [32]byte) (id [8]byte) {
	sum := sha256.Sum256(staticPublicKey[:])
	copy(id[:], sum[:8])
	return id
}
