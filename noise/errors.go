package noise

import "errors"

// Session-level errors.
var (
	ErrInvalidState     = errors.New("noise: invalid state transition")
	ErrNotEstablished   = errors.New("noise: session not established")
	ErrSessionExpired   = errors.New("noise: session expired")
	ErrSessionExhausted = errors.New("noise: session message ceiling reached")
	ErrRateLimited      = errors.New("noise: rate limited")
	ErrHandshakeTimeout = errors.New("noise: handshake timed out")
	ErrMessageTooLarge  = errors.New("noise: message exceeds size limit")
)
