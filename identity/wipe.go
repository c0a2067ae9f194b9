package identity

// Wipe discards the current identity and every piece of peer state
// derived from it -- favorites, verified keys, and the block list --
// then generates and persists a fresh key pair. Used by a panic-clear:
// the caller is expected to also drop every live Noise session, since
// they were all negotiated under the key this call just destroyed.
func (s *Store) Wipe() error {
	s.mu.Lock()
	s.backing.Delete([]byte(keyStaticPrivate))
	s.backing.Delete([]byte(keyStaticPublic))
	s.backing.Delete([]byte(keySigningPrivate))
	s.backing.Delete([]byte(keySigningPublic))
	s.backing.Delete([]byte(favoritesKey))
	s.backing.Delete([]byte(blockedKey))

	s.favorites = make(map[[32]byte]*Favorite)
	s.verifiedPeers = make(map[[8]byte][32]byte)
	s.verifiedSigningKeys = make(map[[8]byte][32]byte)
	s.blocked = make(map[string]bool)
	s.dirty = false
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.mu.Unlock()

	s.mu.Lock()
	err := s.loadOrGenerateKeys()
	s.mu.Unlock()
	return err
}
