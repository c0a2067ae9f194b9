/*
File Name:  Exit.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import "errors"

// Exit codes signal why Init or a lifecycle call failed. Anything other
// than ExitSuccess indicates a fatal failure; clients are encouraged to
// log additional detail.
const (
	ExitSuccess           = 0 // No error.
	ExitErrorConfigAccess = 1 // Error accessing the config file.
	ExitErrorConfigRead   = 2 // Error reading the config file.
	ExitErrorConfigParse  = 3 // Error parsing the config file.
	ExitErrorLogInit      = 4 // Error initializing log file.
	ExitErrorIdentity     = 5 // Error loading or generating identity keys.
	ExitErrorStorage      = 6 // Error opening the backing store.
	ExitGraceful          = 7 // Graceful shutdown.

	// capability-API exit conditions.
	ExitNotInitialized = 8  // start() called before initialize().
	ExitNotStarted     = 9  // send()/establishSession() called before start().
	ExitMissingPayload = 10 // send() called with an empty payload.
	ExitMissingPeerID  = 11 // establishSession() called without a peerID.
)

// Errors mirroring the capability-API exit conditions, returned by the capability
// API (send, establishSession, start) once the node is past Init.
var (
	ErrNotInitialized = errors.New("core: not initialized")
	ErrNotStarted     = errors.New("core: not started")
	ErrMissingPayload = errors.New("core: missing payload")
	ErrMissingPeerID  = errors.New("core: missing peerID")
)
