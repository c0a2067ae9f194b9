package identity

import (
	"encoding/json"
	"time"
)

// Favorite is a directed per-fingerprint relationship flag.
// Mutual favorite status is IsFavorite && TheyFavoritedUs.
type Favorite struct {
	PeerNoisePublicKey [32]byte `json:"peerNoisePublicKey"`
	PeerNostrPublicKey string   `json:"peerNostrPublicKey,omitempty"`
	PeerNickname       string   `json:"peerNickname"`
	IsFavorite         bool     `json:"isFavorite"`
	TheyFavoritedUs    bool     `json:"theyFavoritedUs"`
	FavoritedAt        time.Time `json:"favoritedAt"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// favoritesKey is the backing-store key under which the favorites blob is
// persisted.
const favoritesKey = "favorites"

// SetFavorite marks peer as favorited (or unfavorited) by the local side.
func (s *Store) SetFavorite(peerNoisePublicKey [32]byte, nickname string, isFavorite bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.favorites[peerNoisePublicKey]
	if !ok {
		f = &Favorite{PeerNoisePublicKey: peerNoisePublicKey}
		s.favorites[peerNoisePublicKey] = f
	}
	f.PeerNickname = nickname
	f.IsFavorite = isFavorite
	f.LastUpdated = time.Now()
	if isFavorite && f.FavoritedAt.IsZero() {
		f.FavoritedAt = f.LastUpdated
	}
	s.scheduleSave()
}

// SetTheyFavoritedUs records that the remote side has favorited this
// identity, learned from their announcement or a handshake payload.
func (s *Store) SetTheyFavoritedUs(peerNoisePublicKey [32]byte, favorited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.favorites[peerNoisePublicKey]
	if !ok {
		f = &Favorite{PeerNoisePublicKey: peerNoisePublicKey}
		s.favorites[peerNoisePublicKey] = f
	}
	f.TheyFavoritedUs = favorited
	f.LastUpdated = time.Now()
	s.scheduleSave()
}

// Favorite looks up the favorite record for a peer, if any.
func (s *Store) Favorite(peerNoisePublicKey [32]byte) (Favorite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.favorites[peerNoisePublicKey]
	if !ok {
		return Favorite{}, false
	}
	return *f, true
}

// IsMutualFavorite reports whether both sides have favorited each other.
func (s *Store) IsMutualFavorite(peerNoisePublicKey [32]byte) bool {
	f, ok := s.Favorite(peerNoisePublicKey)
	return ok && f.IsFavorite && f.TheyFavoritedUs
}

// snapshotFavorites copies the favorites map for a lock-free JSON marshal.
// Caller must hold s.mu.
func (s *Store) snapshotFavorites() []Favorite {
	out := make([]Favorite, 0, len(s.favorites))
	for _, f := range s.favorites {
		out = append(out, *f)
	}
	return out
}

func (s *Store) saveFavorites(favorites []Favorite) error {
	data, err := json.Marshal(favorites)
	if err != nil {
		return err
	}
	return s.putEncrypted(favoritesKey, data)
}

func (s *Store) loadFavorites() error {
	data, ok := s.getDecrypted(favoritesKey)
	if !ok {
		return nil
	}
	var favorites []Favorite
	if err := json.Unmarshal(data, &favorites); err != nil {
		return err
	}
	s.mu.Lock()
	for i := range favorites {
		f := favorites[i]
		s.favorites[f.PeerNoisePublicKey] = &f
	}
	s.mu.Unlock()
	return nil
}
