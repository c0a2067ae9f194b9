// Package noise implements a from-scratch Noise_XX_25519_ChaChaPoly_BLAKE2s
// handshake and the per-peer session state machine built on top of it:
// mutual XX handshake, transport AEAD, sliding-window rate limits,
// and session age/rekey policy.
package noise

import (
	"encoding/binary"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const hashLen = 32

// ErrDecryptFailed covers any AEAD open failure during the handshake or
// transport phase: bad key, tampered ciphertext, or wrong associated data.
var ErrDecryptFailed = errors.New("noise: decryption failed")

// symmetricState tracks the running handshake hash and chaining key, per
// the Noise Protocol Framework's SymmetricState object.
type symmetricState struct {
	h      [hashLen]byte
	ck     [hashLen]byte
	k      [32]byte
	hasKey bool
	n      uint64
}

func newSymmetricState(protocolName string) *symmetricState {
	s := &symmetricState{}
	if len(protocolName) <= hashLen {
		copy(s.h[:], protocolName)
	} else {
		s.h = blake2s.Sum256([]byte(protocolName))
	}
	s.ck = s.h
	return s
}

func blake2sHash() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

// mixHash folds data into the running handshake hash: h = HASH(h || data).
func (s *symmetricState) mixHash(data []byte) {
	buf := make([]byte, 0, hashLen+len(data))
	buf = append(buf, s.h[:]...)
	buf = append(buf, data...)
	s.h = blake2s.Sum256(buf)
}

// mixKey derives a new chaining key and cipher key from input key material
// (a DH output) via HKDF over the current chaining key.
func (s *symmetricState) mixKey(ikm []byte) error {
	out := make([]byte, 64)
	r := hkdf.New(blake2sHash, ikm, s.ck[:], nil)
	if _, err := io.ReadFull(r, out); err != nil {
		return err
	}
	copy(s.ck[:], out[:32])
	copy(s.k[:], out[32:64])
	s.hasKey = true
	s.n = 0
	return nil
}

// encryptAndHash encrypts plaintext (if a key has been established) and
// mixes the result into the hash; otherwise passes the plaintext through
// unmodified, still mixing it into the hash.
func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		return append([]byte(nil), plaintext...), nil
	}
	aead, err := chacha20poly1305.New(s.k[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonceFor(s.n), plaintext, s.h[:])
	s.n++
	s.mixHash(ciphertext)
	return ciphertext, nil
}

// decryptAndHash is the receive-side counterpart of encryptAndHash.
func (s *symmetricState) decryptAndHash(data []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(data)
		return append([]byte(nil), data...), nil
	}
	aead, err := chacha20poly1305.New(s.k[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonceFor(s.n), data, s.h[:])
	if err != nil {
		return nil, ErrDecryptFailed
	}
	s.n++
	s.mixHash(data)
	return plaintext, nil
}

// split derives the two transport cipher states from the final chaining
// key, one per direction.
func (s *symmetricState) split() (c1, c2 *cipherState) {
	out := make([]byte, 64)
	r := hkdf.New(blake2sHash, nil, s.ck[:], nil)
	io.ReadFull(r, out)

	var k1, k2 [32]byte
	copy(k1[:], out[:32])
	copy(k2[:], out[32:64])
	return &cipherState{key: k1}, &cipherState{key: k2}
}

// cipherState is a one-directional ChaCha20-Poly1305 transport cipher with
// a strictly increasing nonce counter.
type cipherState struct {
	key [32]byte
	n   uint64
}

func (c *cipherState) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonceFor(c.n), plaintext, nil)
	c.n++
	return ciphertext, nil
}

func (c *cipherState) Decrypt(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonceFor(c.n), data, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	c.n++
	return plaintext, nil
}

// nonceFor encodes a 64-bit counter into a 12-byte little-endian nonce
// with a zero 4-byte prefix, per the Noise Protocol Framework's cipher
// nonce convention.
func nonceFor(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}
