/*
File Name:  Blacklist.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Thin capability-API pass-throughs to the identity store's own block
list backing blockPeer/unblockPeer/isPeerBlocked: identity.Store
already persists fingerprint blocks under its own encrypted envelope,
so there is no separate blacklist database to maintain here.
*/

package core

// BlockPeer adds fingerprint to the local block list. Blocked peers'
// broadcast MESSAGE and ANNOUNCE traffic is dropped at the router.
func (backend *Backend) BlockPeer(fingerprint string) {
	backend.identity.Block(fingerprint)
}

// UnblockPeer removes fingerprint from the block list.
func (backend *Backend) UnblockPeer(fingerprint string) {
	backend.identity.Unblock(fingerprint)
}

// IsPeerBlocked reports whether fingerprint is currently blocked.
func (backend *Backend) IsPeerBlocked(fingerprint string) bool {
	return backend.identity.IsBlocked(fingerprint)
}
