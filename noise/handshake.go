package noise

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// protocolName names the exact Noise construction used on the wire:
// Noise_XX_25519_ChaChaPoly_BLAKE2s.
const protocolName = "Noise_XX_25519_ChaChaPoly_BLAKE2s"

// ErrHandshakeOrder is returned when a handshake message is processed out
// of the XX pattern's fixed order.
var ErrHandshakeOrder = errors.New("noise: handshake message out of order")

// Role distinguishes the two sides of a handshake. By tie-break rule,
// the lower PeerID always takes RoleInitiator.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// HandshakeState drives one Noise_XX handshake: message 1 (-> e), message
// 2 (<- e, ee, s, es), message 3 (-> s, se).
type HandshakeState struct {
	ss   *symmetricState
	role Role
	step int // count of messages processed so far, 0..3

	localStaticPrivate, localStaticPublic [32]byte
	localEphemeralPrivate, localEphemeralPublic [32]byte

	remoteEphemeral [32]byte
	remoteStatic    [32]byte
}

// NewHandshakeState creates a handshake for either role using the local
// static key pair. The prologue is empty: no pre-shared
// application data binds the handshake.
func NewHandshakeState(role Role, localStaticPrivate, localStaticPublic [32]byte) *HandshakeState {
	hs := &HandshakeState{
		ss:                 newSymmetricState(protocolName),
		role:               role,
		localStaticPrivate: localStaticPrivate,
		localStaticPublic:  localStaticPublic,
	}
	hs.ss.mixHash(nil)
	return hs
}

func dh(privateKey, publicKey [32]byte) ([]byte, error) {
	return curve25519.X25519(privateKey[:], publicKey[:])
}

func generateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], out)
	return priv, pub, nil
}

// WriteMessage1 produces message 1 (initiator only): -> e.
func (hs *HandshakeState) WriteMessage1() ([]byte, error) {
	if hs.role != RoleInitiator || hs.step != 0 {
		return nil, ErrHandshakeOrder
	}
	priv, pub, err := generateEphemeral()
	if err != nil {
		return nil, err
	}
	hs.localEphemeralPrivate, hs.localEphemeralPublic = priv, pub
	hs.ss.mixHash(pub[:])
	hs.step = 1
	return append([]byte(nil), pub[:]...), nil
}

// ReadMessage1 consumes message 1 (responder only).
func (hs *HandshakeState) ReadMessage1(msg []byte) error {
	if hs.role != RoleResponder || hs.step != 0 {
		return ErrHandshakeOrder
	}
	if len(msg) != 32 {
		return ErrHandshakeOrder
	}
	copy(hs.remoteEphemeral[:], msg)
	hs.ss.mixHash(msg)
	hs.step = 1
	return nil
}

// WriteMessage2 produces message 2 (responder only): <- e, ee, s, es.
func (hs *HandshakeState) WriteMessage2() ([]byte, error) {
	if hs.role != RoleResponder || hs.step != 1 {
		return nil, ErrHandshakeOrder
	}

	priv, pub, err := generateEphemeral()
	if err != nil {
		return nil, err
	}
	hs.localEphemeralPrivate, hs.localEphemeralPublic = priv, pub
	hs.ss.mixHash(pub[:])

	ee, err := dh(hs.localEphemeralPrivate, hs.remoteEphemeral)
	if err != nil {
		return nil, err
	}
	if err := hs.ss.mixKey(ee); err != nil {
		return nil, err
	}

	encryptedStatic, err := hs.ss.encryptAndHash(hs.localStaticPublic[:])
	if err != nil {
		return nil, err
	}

	es, err := dh(hs.localStaticPrivate, hs.remoteEphemeral)
	if err != nil {
		return nil, err
	}
	if err := hs.ss.mixKey(es); err != nil {
		return nil, err
	}

	hs.step = 2

	out := make([]byte, 0, 32+len(encryptedStatic))
	out = append(out, pub[:]...)
	out = append(out, encryptedStatic...)
	return out, nil
}

// ReadMessage2 consumes message 2 (initiator only).
func (hs *HandshakeState) ReadMessage2(msg []byte) error {
	if hs.role != RoleInitiator || hs.step != 1 {
		return ErrHandshakeOrder
	}
	if len(msg) < 32 {
		return ErrHandshakeOrder
	}
	copy(hs.remoteEphemeral[:], msg[:32])
	hs.ss.mixHash(msg[:32])

	ee, err := dh(hs.localEphemeralPrivate, hs.remoteEphemeral)
	if err != nil {
		return err
	}
	if err := hs.ss.mixKey(ee); err != nil {
		return err
	}

	rs, err := hs.ss.decryptAndHash(msg[32:])
	if err != nil {
		return err
	}
	if len(rs) != 32 {
		return ErrHandshakeOrder
	}
	copy(hs.remoteStatic[:], rs)

	es, err := dh(hs.localEphemeralPrivate, hs.remoteStatic)
	if err != nil {
		return err
	}
	if err := hs.ss.mixKey(es); err != nil {
		return err
	}

	hs.step = 2
	return nil
}

// WriteMessage3 produces message 3 (initiator only): -> s, se. It also
// completes the handshake.
func (hs *HandshakeState) WriteMessage3() ([]byte, error) {
	if hs.role != RoleInitiator || hs.step != 2 {
		return nil, ErrHandshakeOrder
	}

	encryptedStatic, err := hs.ss.encryptAndHash(hs.localStaticPublic[:])
	if err != nil {
		return nil, err
	}

	se, err := dh(hs.localStaticPrivate, hs.remoteEphemeral)
	if err != nil {
		return nil, err
	}
	if err := hs.ss.mixKey(se); err != nil {
		return nil, err
	}

	hs.step = 3
	return encryptedStatic, nil
}

// ReadMessage3 consumes message 3 (responder only) and completes the
// handshake.
func (hs *HandshakeState) ReadMessage3(msg []byte) error {
	if hs.role != RoleResponder || hs.step != 2 {
		return ErrHandshakeOrder
	}

	rs, err := hs.ss.decryptAndHash(msg)
	if err != nil {
		return err
	}
	if len(rs) != 32 {
		return ErrHandshakeOrder
	}
	copy(hs.remoteStatic[:], rs)

	se, err := dh(hs.localEphemeralPrivate, hs.remoteStatic)
	if err != nil {
		return err
	}
	if err := hs.ss.mixKey(se); err != nil {
		return err
	}

	hs.step = 3
	return nil
}

// RemoteStatic returns the static public key learned from the peer. Only
// meaningful once the handshake has reached step 2 (initiator) or 3
// (responder).
func (hs *HandshakeState) RemoteStatic() [32]byte {
	return hs.remoteStatic
}

// Complete reports whether all three messages have been processed.
func (hs *HandshakeState) Complete() bool {
	return hs.step == 3
}

// Split derives the transport cipher pair. send is used for messages
// originating from this side, recv for messages arriving from the peer.
func (hs *HandshakeState) Split() (send, recv *cipherState, err error) {
	if !hs.Complete() {
		return nil, nil, ErrHandshakeOrder
	}
	c1, c2 := hs.ss.split()
	if hs.role == RoleInitiator {
		return c1, c2, nil
	}
	return c2, c1, nil
}
