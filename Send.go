/*
File Name:  Send.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The capability API's send({payload, peerID?}) -> messageID: a
broadcast MESSAGE if peerID is zero, otherwise an encrypted
PRIVATE_MESSAGE over an established Noise session, or a queued outbox
entry flushed once that session completes.
*/

package core

import (
	"crypto/rand"

	"github.com/vaultmesh/core/noise"
	"github.com/vaultmesh/core/protocol"
)

// send transmits payload, either as a broadcast MESSAGE (peerID is the
// zero value) or as an encrypted PRIVATE_MESSAGE to peerID. If no Noise
// session is established yet, the message is queued in the outbox and
// a handshake is triggered; it is sent once onEstablished fires.
func (backend *Backend) send(payload []byte, peerID protocol.PeerID) (messageID [16]byte, err error) {
	if !backend.isStarted() {
		return messageID, ErrNotStarted
	}
	if len(payload) == 0 {
		return messageID, ErrMissingPayload
	}
	if _, rerr := rand.Read(messageID[:]); rerr != nil {
		return messageID, rerr
	}

	if peerID == (protocol.PeerID{}) {
		p := &protocol.Packet{
			Version:   protocol.Version2,
			Type:      protocol.TypeMessage,
			TTL:       8,
			Timestamp: nowMillisBackend(),
			SenderID:  backend.peerID,
			Payload:   payload,
		}
		if serr := backend.broadcaster.Broadcast(p, nil); serr != nil {
			return messageID, serr
		}
		backend.Events.OnSent(messageID)
		return messageID, nil
	}

	key := sessionKeyBackend(peerID)
	if backend.noiseMgr.State(key) == noise.StateEstablished {
		if serr := backend.sendPrivate(peerID, messageID, payload); serr != nil {
			return messageID, serr
		}
		return messageID, nil
	}

	backend.queueOutbox(peerID, messageID, payload)
	if serr := backend.establishSession(peerID); serr != nil {
		return messageID, serr
	}
	return messageID, nil
}

// sendPrivate encrypts payload as a PrivateMessage inside a
// PRIVATE_MESSAGE NoisePayload envelope and unicasts it.
func (backend *Backend) sendPrivate(peerID protocol.PeerID, messageID [16]byte, payload []byte) error {
	inner := protocol.EncodePrivateMessage(&protocol.PrivateMessage{MessageID: messageID, Content: payload})
	envelope := protocol.EncodeNoisePayload(&protocol.NoisePayload{Type: protocol.NoisePayloadPrivateMessage, Data: inner})

	ciphertext, err := backend.noiseMgr.Encrypt(sessionKeyBackend(peerID), envelope)
	if err != nil {
		return err
	}

	p := &protocol.Packet{
		Version:     protocol.Version2,
		Type:        protocol.TypeNoiseEncrypted,
		TTL:         8,
		Timestamp:   nowMillisBackend(),
		SenderID:    backend.peerID,
		RecipientID: &peerID,
		Payload:     ciphertext,
	}
	if link, ok := backend.tracker.LinkForPeer(peerID); ok {
		return backend.broadcaster.SendDirect(link, p)
	}
	return backend.broadcaster.Broadcast(p, nil)
}

// queueOutbox appends an entry awaiting a completed handshake, dropping
// the oldest entry once handshakeOutboxLimit is reached (bounded
// queues, never unbounded growth).
func (backend *Backend) queueOutbox(peerID protocol.PeerID, messageID [16]byte, payload []byte) {
	backend.outboxMu.Lock()
	defer backend.outboxMu.Unlock()

	entries := backend.outbox[peerID]
	if len(entries) >= handshakeOutboxLimit {
		entries = entries[1:]
	}
	entries = append(entries, outboxEntry{messageID: messageID, content: append([]byte(nil), payload...)})
	backend.outbox[peerID] = entries
}

// flushOutbox sends every entry queued for peerID once its Noise
// session reaches Established, then clears the queue.
func (backend *Backend) flushOutbox(peerID protocol.PeerID) {
	backend.outboxMu.Lock()
	entries := backend.outbox[peerID]
	delete(backend.outbox, peerID)
	backend.outboxMu.Unlock()

	for _, entry := range entries {
		if err := backend.sendPrivate(peerID, entry.messageID, entry.content); err != nil {
			backend.LogError("flushOutbox", "sending queued message to %s: %v", peerID.String(), err)
			continue
		}
		backend.Events.OnSent(entry.messageID)
	}
}
