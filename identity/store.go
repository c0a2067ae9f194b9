package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/vaultmesh/core/store"
)

// Persisted key names.
const (
	keyStaticPrivate  = "static_private_key"
	keyStaticPublic   = "static_public_key"
	keySigningPrivate = "signing_private_key"
	keySigningPublic  = "signing_public_key"
)

// ErrStorage wraps any failure reading or writing the backing store.
var ErrStorage = errors.New("identity: storage error")

// saveDebounce is how long Store waits after a mutation before persisting,
// coalescing bursts of favorite/verification updates into one write.
const saveDebounce = 2 * time.Second

// Store holds a peer's identity material and its favorites/verification
// table, persisted through a store.Store backing under an AES-256-GCM
// envelope (the in-scope portion of the "encrypted at rest" contract;
// the platform secure-storage primitive that protects the envelope key
// itself is an external collaborator).
type Store struct {
	mu sync.Mutex

	backing    store.Store
	envelopeKey [32]byte
	logger     *log.Logger

	Static  StaticKeyPair
	Signing SigningKeyPair

	favorites         map[[32]byte]*Favorite // keyed by peer static public key
	verifiedPeers     map[[8]byte][32]byte   // peerID -> static public key bound at first verified announcement
	verifiedSigningKeys map[[8]byte][32]byte  // peerID -> Ed25519 signing key bound at first verified announcement
	blocked           map[string]bool        // fingerprint -> blocked

	saveTimer *time.Timer
	dirty     bool
	closed    bool
}

// Open loads identity material from backing, generating and persisting a
// fresh key pair on first run. envelopeKey is the 256-bit key protecting
// every value written to backing.
func Open(backing store.Store, envelopeKey [32]byte, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		backing:     backing,
		envelopeKey: envelopeKey,
		logger:      logger,
		favorites:           make(map[[32]byte]*Favorite),
		verifiedPeers:       make(map[[8]byte][32]byte),
		verifiedSigningKeys: make(map[[8]byte][32]byte),
		blocked:             make(map[string]bool),
	}

	if err := s.loadOrGenerateKeys(); err != nil {
		return nil, err
	}
	if err := s.loadFavorites(); err != nil {
		// Absence of a favorites blob is normal on first run; only log
		// genuine decode failures.
		s.logger.Printf("identity: favorites load: %v", err)
	}
	if err := s.loadBlocked(); err != nil {
		s.logger.Printf("identity: blocklist load: %v", err)
	}

	return s, nil
}

func (s *Store) loadOrGenerateKeys() error {
	staticPriv, okPriv := s.getDecrypted(keyStaticPrivate)
	staticPub, okPub := s.getDecrypted(keyStaticPublic)
	if okPriv && okPub && len(staticPriv) == 32 && len(staticPub) == 32 {
		copy(s.Static.PrivateKey[:], staticPriv)
		copy(s.Static.PublicKey[:], staticPub)
	} else {
		kp, err := GenerateStaticKeyPair()
		if err != nil {
			return err
		}
		s.Static = kp
		if err := s.putEncrypted(keyStaticPrivate, kp.PrivateKey[:]); err != nil {
			return err
		}
		if err := s.putEncrypted(keyStaticPublic, kp.PublicKey[:]); err != nil {
			return err
		}
	}

	signingPriv, okPriv := s.getDecrypted(keySigningPrivate)
	signingPub, okPub := s.getDecrypted(keySigningPublic)
	if okPriv && okPub && len(signingPriv) == ed25519PrivateKeySize && len(signingPub) == ed25519PublicKeySize {
		s.Signing.PrivateKey = append([]byte(nil), signingPriv...)
		s.Signing.PublicKey = append([]byte(nil), signingPub...)
	} else {
		kp, err := GenerateSigningKeyPair()
		if err != nil {
			return err
		}
		s.Signing = kp
		if err := s.putEncrypted(keySigningPrivate, kp.PrivateKey); err != nil {
			return err
		}
		if err := s.putEncrypted(keySigningPublic, kp.PublicKey); err != nil {
			return err
		}
	}

	return nil
}

const (
	ed25519PrivateKeySize = 64
	ed25519PublicKeySize  = 32
)

// Fingerprint returns this identity's fingerprint.
func (s *Store) Fingerprint() string {
	return Fingerprint(s.Static.PublicKey)
}

// PeerID returns this identity's short peer ID.
func (s *Store) PeerID() [8]byte {
	return PeerID(s.Static.PublicKey)
}

// scheduleSave arms the debounce timer. Caller must hold s.mu.
func (s *Store) scheduleSave() {
	s.dirty = true
	if s.closed {
		return
	}
	if s.saveTimer != nil {
		return
	}
	s.saveTimer = time.AfterFunc(saveDebounce, s.flush)
}

func (s *Store) flush() {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.saveTimer = nil
	favorites := s.snapshotFavorites()
	blocked := s.snapshotBlocked()
	s.mu.Unlock()

	if !dirty {
		return
	}
	if err := s.saveFavorites(favorites); err != nil {
		s.logger.Printf("identity: debounced favorites save failed: %v", err)
	}
	if err := s.saveBlocked(blocked); err != nil {
		s.logger.Printf("identity: debounced blocklist save failed: %v", err)
	}
}

// ForceSave flushes pending changes synchronously, swallowing and logging
// any final error. Intended for shutdown.
func (s *Store) ForceSave() {
	s.mu.Lock()
	s.closed = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	dirty := s.dirty
	s.dirty = false
	favorites := s.snapshotFavorites()
	blocked := s.snapshotBlocked()
	s.mu.Unlock()

	if !dirty {
		return
	}
	if err := s.saveFavorites(favorites); err != nil {
		s.logger.Printf("identity: forceSave favorites failed: %v", err)
	}
	if err := s.saveBlocked(blocked); err != nil {
		s.logger.Printf("identity: forceSave blocklist failed: %v", err)
	}
}

// putEncrypted seals value under AES-256-GCM and writes it to backing.
func (s *Store) putEncrypted(key string, value []byte) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	if err := s.backing.Set([]byte(key), sealed); err != nil {
		return ErrStorage
	}
	return nil
}

// getDecrypted reads and opens the envelope for key. found is false if
// the key is absent or the envelope cannot be opened.
func (s *Store) getDecrypted(key string) (value []byte, found bool) {
	sealed, ok := s.backing.Get([]byte(key))
	if !ok {
		return nil, false
	}
	value, err := s.open(sealed)
	if err != nil {
		return nil, false
	}
	return value, true
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.envelopeKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.envelopeKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrStorage
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
