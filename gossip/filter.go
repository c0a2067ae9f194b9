package gossip

import (
	"github.com/btcsuite/btcutil/gcs"

	"github.com/vaultmesh/core/protocol"
)

// filterP is the Golomb-Rice parameter. With filterM's modulus the
// false-positive rate is about 1/filterM (roughly 1 in 785,000).
const filterP uint8 = 19

// filterM is the GCS modulus.
const filterM uint64 = 784931

// filterKey is a fixed, publicly-known SipHash key. GCS filters need a
// key to randomize bucket placement, but REQUEST_SYNC carries no shared
// secret to derive one from -- every participant must build and match
// filters identically, so the key is a protocol constant rather than
// per-session material (see DESIGN.md).
var filterKey [gcs.KeySize]byte

// BuildFilter constructs a GCS filter over the given packet IDs, ready
// to embed in a RequestSync payload.
func BuildFilter(ids [][32]byte) (p uint8, m uint32, data []byte, err error) {
	items := make([][]byte, len(ids))
	for i, id := range ids {
		idCopy := id
		items[i] = idCopy[:]
	}

	filter, err := gcs.BuildGCSFilter(filterP, filterM, filterKey, items)
	if err != nil {
		return 0, 0, nil, err
	}
	encoded, err := filter.NBytes()
	if err != nil {
		return 0, 0, nil, err
	}
	return filterP, uint32(filterM), encoded, nil
}

// MatchesFilter reports whether id is a member of the filter encoded in
// req, decoding it fresh each call -- the responder side of a sync request.
func MatchesFilter(req *protocol.RequestSync, id [32]byte) (bool, error) {
	filter, err := gcs.FromNBytes(req.P, uint64(req.M), req.Filter)
	if err != nil {
		return false, err
	}
	return filter.Match(filterKey, id[:])
}
