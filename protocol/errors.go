// Package protocol implements the binary wire format shared by every peer in
// the mesh: packet framing, padding, compression, and fragmentation.
package protocol

import "errors"

// Decode/encode errors. Callers should treat any of these as "drop the
// frame silently" per the error taxonomy — none of them are user-visible.
var (
	ErrMalformed            = errors.New("protocol: malformed packet")
	ErrUnsupportedVersion   = errors.New("protocol: unsupported version")
	ErrSizeExceeded         = errors.New("protocol: size exceeded")
	ErrCompressionFailure   = errors.New("protocol: compression failure")
	ErrEncodeTooLarge       = errors.New("protocol: payload too large to encode")
	ErrCompressionUnavailable = errors.New("protocol: compression unavailable")

	// errUnderflow is an internal signal meaning "ran out of bytes while
	// parsing a length-prefixed field". Decode uses it to decide whether a
	// second attempt with trailing zero padding stripped is worthwhile; it
	// never escapes Decode.
	errUnderflow = errors.New("protocol: buffer underflow")
)
