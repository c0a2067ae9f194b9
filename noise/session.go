package noise

import (
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vaultmesh/core/protocol"
)

// State is a per-peer Noise session state.
type State int

const (
	StateNone State = iota
	StateInitiated
	StateResponded
	StateEstablished
	StateExpired
)

// Limits and their defaults.
const (
	perPeerHandshakeLimit = 10
	perPeerMessageLimit   = 100
	globalHandshakeLimit  = 30
	globalMessageLimit    = 500

	SessionAgeLimit      = 24 * time.Hour
	SessionMessageCeiling = 1_000_000_000
	RekeyHintRatio        = 0.9
	HandshakeTimeout      = 60 * time.Second

	// MaxTransportMessage and MaxHandshakeMessage bound the plaintext/
	// ciphertext and handshake wire sizes respectively, rejected before
	// any crypto work is attempted.
	MaxTransportMessage = 64 * 1024
	MaxHandshakeMessage = 2 * 1024
)

// Session is one peer's Noise handshake/transport state.
type Session struct {
	mu sync.Mutex

	State State
	Role  Role

	hs   *HandshakeState
	send *cipherState
	recv *cipherState

	RemoteStaticKey [32]byte

	createdAt         time.Time
	handshakeDeadline time.Time
	messageCount      uint64

	handshakeLimiter *slidingWindowLimiter
	messageLimiter   *slidingWindowLimiter
}

// reset discards any in-progress or established handshake state, per the
// tie-break rule: the higher-ID side yields its own initiation attempt.
// Caller must hold s.mu.
func (s *Session) reset() {
	s.State = StateNone
	s.Role = 0
	s.hs = nil
	s.send = nil
	s.recv = nil
	s.RemoteStaticKey = [32]byte{}
	s.messageCount = 0
}

// Manager is the NoiseSessionManager: one per local identity, tracking a
// Session per remote peer fingerprint plus per-peer and global rate
// limits, all keyed on monotonic time.
type Manager struct {
	mu sync.Mutex

	localStaticPrivate, localStaticPublic [32]byte
	localPeerID                           protocol.PeerID

	sessions map[string]*Session

	globalHandshakeLimiter *slidingWindowLimiter
	globalMessageLimiter   *slidingWindowLimiter
}

// NewManager creates a session manager for the local identity.
func NewManager(localStaticPrivate, localStaticPublic [32]byte, localPeerID protocol.PeerID) *Manager {
	return &Manager{
		localStaticPrivate: localStaticPrivate,
		localStaticPublic:  localStaticPublic,
		localPeerID:        localPeerID,
		sessions:           make(map[string]*Session),

		globalHandshakeLimiter: newSlidingWindowLimiter(time.Minute, globalHandshakeLimit),
		globalMessageLimiter:   newSlidingWindowLimiter(time.Second, globalMessageLimit),
	}
}

func (m *Manager) getOrCreate(fingerprint string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[fingerprint]
	if !ok {
		s = &Session{
			handshakeLimiter: newSlidingWindowLimiter(time.Minute, perPeerHandshakeLimit),
			messageLimiter:   newSlidingWindowLimiter(time.Second, perPeerMessageLimit),
		}
		m.sessions[fingerprint] = s
	}
	return s
}

// State returns the current state for a peer, StateNone if no session
// has ever been created.
func (m *Manager) State(fingerprint string) State {
	m.mu.Lock()
	s, ok := m.sessions[fingerprint]
	m.mu.Unlock()
	if !ok {
		return StateNone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// InitiateHandshake starts a handshake as initiator. Only the
// lower PeerID may initiate; callers should otherwise wait for the peer's
// message 1.
func (m *Manager) InitiateHandshake(fingerprint string, remotePeerID protocol.PeerID) ([]byte, error) {
	if !m.localPeerID.Less(remotePeerID) {
		return nil, ErrInvalidState
	}

	if !m.globalHandshakeLimiter.Allow() {
		return nil, ErrRateLimited
	}

	s := m.getOrCreate(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateNone {
		return nil, ErrInvalidState
	}
	if !s.handshakeLimiter.Allow() {
		return nil, ErrRateLimited
	}

	hs := NewHandshakeState(RoleInitiator, m.localStaticPrivate, m.localStaticPublic)
	msg1, err := hs.WriteMessage1()
	if err != nil {
		return nil, err
	}

	s.hs = hs
	s.Role = RoleInitiator
	s.State = StateInitiated
	s.handshakeDeadline = time.Now().Add(HandshakeTimeout)
	return msg1, nil
}

// HandleMessage1 processes an incoming handshake message 1, responding as
// RoleResponder. If the local side is also mid-initiation and holds the
// higher PeerID, its own attempt is discarded per the tie-break rule
// (Open Question 1).
func (m *Manager) HandleMessage1(fingerprint string, remotePeerID protocol.PeerID, msg []byte) ([]byte, error) {
	if len(msg) > MaxHandshakeMessage {
		return nil, ErrMessageTooLarge
	}

	s := m.getOrCreate(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateInitiated {
		if m.localPeerID.Less(remotePeerID) {
			// We are the rightful initiator; ignore the peer's competing message 1.
			return nil, ErrInvalidState
		}
		s.reset()
	}
	if s.State != StateNone {
		return nil, ErrInvalidState
	}

	if !m.globalHandshakeLimiter.Allow() || !s.handshakeLimiter.Allow() {
		return nil, ErrRateLimited
	}

	hs := NewHandshakeState(RoleResponder, m.localStaticPrivate, m.localStaticPublic)
	if err := hs.ReadMessage1(msg); err != nil {
		return nil, err
	}
	reply, err := hs.WriteMessage2()
	if err != nil {
		return nil, err
	}

	s.hs = hs
	s.Role = RoleResponder
	s.State = StateResponded
	s.handshakeDeadline = time.Now().Add(HandshakeTimeout)
	return reply, nil
}

// HandleMessage2 processes an incoming handshake message 2 (initiator
// side) and produces message 3, completing the handshake on this side.
func (m *Manager) HandleMessage2(fingerprint string, msg []byte) ([]byte, error) {
	if len(msg) > MaxHandshakeMessage {
		return nil, ErrMessageTooLarge
	}

	s := m.getOrCreate(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateInitiated || s.Role != RoleInitiator {
		return nil, ErrInvalidState
	}
	if time.Now().After(s.handshakeDeadline) {
		s.reset()
		return nil, ErrHandshakeTimeout
	}

	if err := s.hs.ReadMessage2(msg); err != nil {
		return nil, err
	}
	reply, err := s.hs.WriteMessage3()
	if err != nil {
		return nil, err
	}

	send, recv, err := s.hs.Split()
	if err != nil {
		return nil, err
	}
	s.send, s.recv = send, recv
	s.RemoteStaticKey = s.hs.RemoteStatic()
	s.State = StateEstablished
	s.createdAt = time.Now()
	return reply, nil
}

// HandleMessage3 processes an incoming handshake message 3 (responder
// side), completing the handshake.
func (m *Manager) HandleMessage3(fingerprint string, msg []byte) error {
	if len(msg) > MaxHandshakeMessage {
		return ErrMessageTooLarge
	}

	s := m.getOrCreate(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateResponded || s.Role != RoleResponder {
		return ErrInvalidState
	}
	if time.Now().After(s.handshakeDeadline) {
		s.reset()
		return ErrHandshakeTimeout
	}

	if err := s.hs.ReadMessage3(msg); err != nil {
		return err
	}

	send, recv, err := s.hs.Split()
	if err != nil {
		return err
	}
	s.send, s.recv = send, recv
	s.RemoteStaticKey = s.hs.RemoteStatic()
	s.State = StateEstablished
	s.createdAt = time.Now()
	return nil
}

// Encrypt encrypts a transport message bound for an established session.
func (m *Manager) Encrypt(fingerprint string, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxTransportMessage {
		return nil, ErrMessageTooLarge
	}

	s := m.getOrCreate(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLiveness(); err != nil {
		return nil, err
	}
	if !m.globalMessageLimiter.Allow() || !s.messageLimiter.Allow() {
		return nil, ErrRateLimited
	}

	ciphertext, err := s.send.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	s.messageCount++
	return ciphertext, nil
}

// Decrypt decrypts a transport message from an established session.
func (m *Manager) Decrypt(fingerprint string, data []byte) ([]byte, error) {
	if len(data) > MaxTransportMessage+chacha20poly1305.Overhead {
		return nil, ErrMessageTooLarge
	}

	s := m.getOrCreate(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLiveness(); err != nil {
		return nil, err
	}

	plaintext, err := s.recv.Decrypt(data)
	if err != nil {
		return nil, err
	}
	s.messageCount++
	return plaintext, nil
}

// checkLiveness verifies the session is established, not past its age
// limit, and under its message ceiling. Caller must hold s.mu.
func (s *Session) checkLiveness() error {
	if s.State == StateExpired {
		return ErrSessionExpired
	}
	if s.State != StateEstablished {
		return ErrNotEstablished
	}
	if time.Since(s.createdAt) > SessionAgeLimit {
		s.State = StateExpired
		return ErrSessionExpired
	}
	if s.messageCount >= SessionMessageCeiling {
		s.State = StateExpired
		return ErrSessionExhausted
	}
	return nil
}

// Forget discards a peer's session entirely, as if it had never
// existed. Used when a peer leaves the mesh (a wire LEAVE).
func (m *Manager) Forget(fingerprint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, fingerprint)
}

// WipeAll discards every tracked session, used by a panic-clear: the
// local identity is about to be replaced, so no existing session can
// remain valid.
func (m *Manager) WipeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}

// SessionInfo is a read-only snapshot of one tracked session, for
// introspection surfaces that must not hand out the live Session.
type SessionInfo struct {
	Fingerprint  string
	State        State
	Role         Role
	MessageCount uint64
}

// Sessions returns a snapshot of every currently tracked session.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	fingerprints := make([]string, 0, len(m.sessions))
	sessions := make([]*Session, 0, len(m.sessions))
	for fp, s := range m.sessions {
		fingerprints = append(fingerprints, fp)
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, len(fingerprints))
	for i, s := range sessions {
		s.mu.Lock()
		out[i] = SessionInfo{Fingerprint: fingerprints[i], State: s.State, Role: s.Role, MessageCount: s.messageCount}
		s.mu.Unlock()
	}
	return out
}

// NeedsRekey reports whether a session has crossed the rekey hint
// threshold (90% of its message ceiling).
func (m *Manager) NeedsRekey(fingerprint string) bool {
	m.mu.Lock()
	s, ok := m.sessions[fingerprint]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State == StateEstablished && float64(s.messageCount) >= RekeyHintRatio*SessionMessageCeiling
}

// SweepExpired scans all sessions for handshake timeouts and session-age
// expiry. Intended to be called periodically by the owning component.
func (m *Manager) SweepExpired() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, s := range sessions {
		s.mu.Lock()
		switch s.State {
		case StateInitiated, StateResponded:
			if now.After(s.handshakeDeadline) {
				s.reset()
			}
		case StateEstablished:
			if now.Sub(s.createdAt) > SessionAgeLimit {
				s.State = StateExpired
			}
		}
		s.mu.Unlock()
	}
}
