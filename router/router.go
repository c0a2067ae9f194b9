// Package router implements the MessageRouter: the per-type dispatch
// that sits between decoded wire packets and the identity, Noise,
// gossip, relay, and application layers.
package router

import (
	"errors"
	"time"

	"github.com/vaultmesh/core/gossip"
	"github.com/vaultmesh/core/identity"
	"github.com/vaultmesh/core/noise"
	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/relay"
)

// staleAnnounceWindow bounds how old an ANNOUNCE's timestamp may be
// before it is rejected as stale (default 180 s).
const staleAnnounceWindow = 180 * time.Second

var errDropped = errors.New("router: packet dropped")

// FileStore persists an incoming file transfer's bytes under the
// project's files/incoming/<random>-<sanitizedName> layout.
type FileStore interface {
	SaveIncoming(fileName string, content []byte) (path string, err error)
}

// Sender is the outbound surface the router needs: identical in shape
// to relay.Fanout so a *radio.Broadcaster satisfies it directly.
type Sender interface {
	Broadcast(p *protocol.Packet, skip map[relay.LinkID]bool) error
	SendDirect(link relay.LinkID, p *protocol.Packet) error
}

// Events is the set of delegate callbacks fired while dispatching,
// generalizing an original single callback-bundle struct into the full
// capability-API event set. A nil field is simply not called.
type Events struct {
	OnPeerAnnounced func(peerID protocol.PeerID, a *protocol.Announcement)
	OnPeerLeft      func(peerID protocol.PeerID)
	OnReceived      func(peerID protocol.PeerID, content []byte, isPrivate bool)
	OnSent          func(messageID [16]byte)
	OnReadReceipt   func(peerID protocol.PeerID, messageID [16]byte)
	OnFileReceived  func(peerID protocol.PeerID, path string, file *protocol.FilePacket)
	OnEstablished   func(peerID protocol.PeerID)
}

// Router dispatches decoded packets by wire type, wiring together
// identity verification, Noise session transitions, gossip
// anti-entropy admission, the relay forward decision, and the
// application-facing events.
type Router struct {
	localPeerID protocol.PeerID
	identity    *identity.Store
	noiseMgr    *noise.Manager
	gossipSync  *gossip.GossipSync
	relayMgr    *relay.Manager
	reassembler *protocol.Reassembler
	sender      Sender
	files       FileStore
	events      Events
}

// New creates a Router. reassembler and relayMgr are normally dedicated
// to this router instance (they hold no cross-router state).
func New(localPeerID protocol.PeerID, identityStore *identity.Store, noiseMgr *noise.Manager, gossipSync *gossip.GossipSync, relayMgr *relay.Manager, reassembler *protocol.Reassembler, sender Sender, files FileStore, events Events) *Router {
	return &Router{
		localPeerID: localPeerID,
		identity:    identityStore,
		noiseMgr:    noiseMgr,
		gossipSync:  gossipSync,
		relayMgr:    relayMgr,
		reassembler: reassembler,
		sender:      sender,
		files:       files,
		events:      events,
	}
}

// sessionKey derives the Noise session lookup key for a peer. A peer's
// true fingerprint (SHA-256 of its static key) is not known until its
// handshake completes, so sessions are keyed by PeerID hex throughout
// the router instead.
func sessionKey(id protocol.PeerID) string {
	return id.String()
}

// Handle is the sole entry point for inbound wire traffic: a freshly
// decoded packet that arrived on inboundLink, not yet deduplicated.
func (r *Router) Handle(p *protocol.Packet, inboundLink relay.LinkID) error {
	if r.isBlockedSender(p) {
		return nil
	}
	if !r.relayMgr.Observe(p) {
		return nil // already seen; Testable Property 5
	}

	isBroadcast := p.RecipientID == nil || p.RecipientID.IsBroadcast()
	addressedToUs := !isBroadcast && *p.RecipientID == r.localPeerID
	originatedByUs := p.SenderID == r.localPeerID
	if !addressedToUs && !originatedByUs {
		if err := r.relayMgr.Forward(p, inboundLink); err != nil {
			return err
		}
	}

	isForUs := isBroadcast || addressedToUs
	if !isForUs {
		return nil
	}
	return r.deliver(p, inboundLink)
}

// isBlockedSender reports whether p's sender is identity-blocked.
// Per Open Question 3's resolution, encrypted envelopes from a blocked
// peer are discarded before any decryption attempt.
func (r *Router) isBlockedSender(p *protocol.Packet) bool {
	key, ok := r.identity.VerifiedStaticKey(p.SenderID)
	if !ok {
		return false
	}
	return r.identity.IsBlocked(identity.Fingerprint(key))
}

// deliver locally processes a packet already determined to be ours
// (broadcast or addressed to us). It never makes a further relay
// decision — that belongs to Handle.
func (r *Router) deliver(p *protocol.Packet, inboundLink relay.LinkID) error {
	switch p.Type {
	case protocol.TypeAnnounce:
		return r.handleAnnounce(p)
	case protocol.TypeMessage:
		return r.handleMessage(p)
	case protocol.TypeLeave:
		return r.handleLeave(p)
	case protocol.TypeNoiseHandshake:
		return r.handleNoiseHandshake(p)
	case protocol.TypeNoiseEncrypted:
		return r.handleNoiseEncrypted(p)
	case protocol.TypeFragment:
		return r.handleFragment(p, inboundLink)
	case protocol.TypeRequestSync:
		return r.handleRequestSync(p, inboundLink)
	case protocol.TypeFileTransfer:
		return r.handleFileTransfer(p)
	default:
		return errDropped
	}
}

// handleFragment feeds a wire fragment to the reassembler; a completed
// group's synthesized packet is redelivered locally without a further
// relay decision, since each fragment was already independently
// relayable.
func (r *Router) handleFragment(p *protocol.Packet, inboundLink relay.LinkID) error {
	parent, complete, err := r.reassembler.Add(p)
	if err != nil || !complete {
		return nil
	}
	return r.deliver(parent, inboundLink)
}

// handleAnnounce verifies signature and freshness, binds the peer's
// static key (rejecting identity drift), and admits the announcement
// into gossip anti-entropy.
func (r *Router) handleAnnounce(p *protocol.Packet) error {
	if p.Signature == nil {
		return nil
	}
	announcement, err := protocol.DecodeAnnouncement(p.Payload)
	if err != nil {
		return nil
	}

	age := timeSince(p.Timestamp)
	if age < 0 || age > staleAnnounceWindow {
		return nil
	}

	image, err := protocol.SigningImage(p)
	if err != nil {
		return nil
	}
	if !identity.VerifySignature(announcement.SigningPublicKey[:], image, p.Signature) {
		return nil
	}

	if !r.identity.BindPeer(p.SenderID, announcement.NoisePublicKey) {
		return nil // identity drift
	}
	r.identity.BindSigningKey(p.SenderID, announcement.SigningPublicKey)

	r.gossipSync.Insert(protocol.SyncClassAnnounce, p)
	if r.events.OnPeerAnnounced != nil {
		r.events.OnPeerAnnounced(p.SenderID, announcement)
	}
	return nil
}

// handleMessage dispatches a plaintext MESSAGE packet, broadcast or
// unicast-to-self, decoding its payload as a FilePacket TLV when
// possible and otherwise as raw UTF-8 text.
func (r *Router) handleMessage(p *protocol.Packet) error {
	isPrivate := p.RecipientID != nil && *p.RecipientID == r.localPeerID

	if !isPrivate {
		if _, ok := r.identity.VerifiedStaticKey(p.SenderID); !ok {
			return nil // broadcast MESSAGE accepted only from verified peers
		}
	} else if p.Signature != nil {
		key, ok := r.identity.VerifiedSigningKey(p.SenderID)
		if !ok {
			return nil
		}
		image, err := protocol.SigningImage(p)
		if err != nil {
			return nil
		}
		if !identity.VerifySignature(key[:], image, p.Signature) {
			return nil
		}
	}

	if file, err := protocol.DecodeFilePacket(p.Payload); err == nil && file.FileName != "" {
		if r.events.OnFileReceived != nil {
			r.events.OnFileReceived(p.SenderID, "", file)
		}
	} else if r.events.OnReceived != nil {
		r.events.OnReceived(p.SenderID, p.Payload, isPrivate)
	}

	r.gossipSync.Insert(protocol.SyncClassMessage, p)
	return nil
}

// handleLeave forgets a peer's Noise session and fires OnPeerLeft. The
// peer's entries in the gossip sync store are not removed.
func (r *Router) handleLeave(p *protocol.Packet) error {
	r.noiseMgr.Forget(sessionKey(p.SenderID))
	if r.events.OnPeerLeft != nil {
		r.events.OnPeerLeft(p.SenderID)
	}
	return nil
}

// handleNoiseHandshake advances the Noise state machine for p's sender
// by inferring which handshake message this is from the local session
// state, and sends any reply directly back to the sender's link.
func (r *Router) handleNoiseHandshake(p *protocol.Packet) error {
	if p.RecipientID == nil {
		return nil // non-addressed handshake packets are dropped
	}

	key := sessionKey(p.SenderID)
	switch r.noiseMgr.State(key) {
	case noise.StateNone:
		reply, err := r.noiseMgr.HandleMessage1(key, p.SenderID, p.Payload)
		if err != nil {
			return nil
		}
		return r.replyHandshake(p.SenderID, reply)

	case noise.StateInitiated:
		reply, err := r.noiseMgr.HandleMessage2(key, p.Payload)
		if err != nil {
			return nil
		}
		if err := r.replyHandshake(p.SenderID, reply); err != nil {
			return err
		}
		if r.events.OnEstablished != nil {
			r.events.OnEstablished(p.SenderID)
		}
		return nil

	case noise.StateResponded:
		if err := r.noiseMgr.HandleMessage3(key, p.Payload); err != nil {
			return nil
		}
		if r.events.OnEstablished != nil {
			r.events.OnEstablished(p.SenderID)
		}
		return nil

	default:
		// Established or Expired: pass it to HandleMessage1 as a fresh
		// initiation attempt. The manager rejects a message 1 in either
		// state with ErrInvalidState, so the packet is dropped here.
		reply, err := r.noiseMgr.HandleMessage1(key, p.SenderID, p.Payload)
		if err != nil {
			return nil
		}
		return r.replyHandshake(p.SenderID, reply)
	}
}

func (r *Router) replyHandshake(to protocol.PeerID, payload []byte) error {
	reply := &protocol.Packet{
		Version:     protocol.Version2,
		Type:        protocol.TypeNoiseHandshake,
		TTL:         1,
		Timestamp:   nowMillis(),
		SenderID:    r.localPeerID,
		RecipientID: &to,
		Payload:     payload,
	}
	return r.sendToPeer(to, reply)
}

// sendToPeer fans p out on every link through Sender.Broadcast. It does
// not look up a direct link to the peer; delivery relies on the peer
// being reachable through the mesh.
func (r *Router) sendToPeer(to protocol.PeerID, p *protocol.Packet) error {
	return r.sender.Broadcast(p, nil)
}

// handleNoiseEncrypted decrypts a transport message and dispatches by
// its envelope tag, auto-emitting a DELIVERED ACK for private messages.
func (r *Router) handleNoiseEncrypted(p *protocol.Packet) error {
	key := sessionKey(p.SenderID)
	plaintext, err := r.noiseMgr.Decrypt(key, p.Payload)
	if err != nil {
		return nil
	}

	envelope, err := protocol.DecodeNoisePayload(plaintext)
	if err != nil {
		return nil
	}

	switch envelope.Type {
	case protocol.NoisePayloadPrivateMessage:
		msg, err := protocol.DecodePrivateMessage(envelope.Data)
		if err != nil {
			return nil
		}
		if r.events.OnReceived != nil {
			r.events.OnReceived(p.SenderID, msg.Content, true)
		}
		return r.sendDelivered(p.SenderID, msg.MessageID)

	case protocol.NoisePayloadDelivered:
		if len(envelope.Data) == 16 && r.events.OnSent != nil {
			var id [16]byte
			copy(id[:], envelope.Data)
			r.events.OnSent(id)
		}
		return nil

	case protocol.NoisePayloadReadReceipt:
		if len(envelope.Data) == 16 && r.events.OnReadReceipt != nil {
			var id [16]byte
			copy(id[:], envelope.Data)
			r.events.OnReadReceipt(p.SenderID, id)
		}
		return nil

	case protocol.NoisePayloadFileTransfer:
		file, err := protocol.DecodeFilePacket(envelope.Data)
		if err != nil {
			return nil
		}
		path, err := r.files.SaveIncoming(file.FileName, file.Content)
		if err != nil {
			return nil
		}
		if r.events.OnFileReceived != nil {
			r.events.OnFileReceived(p.SenderID, path, file)
		}
		return nil

	default:
		return nil
	}
}

// sendDelivered auto-emits a DELIVERED ACK in the same encrypted
// envelope shape as a private message.
func (r *Router) sendDelivered(to protocol.PeerID, messageID [16]byte) error {
	envelope := protocol.EncodeNoisePayload(&protocol.NoisePayload{
		Type: protocol.NoisePayloadDelivered,
		Data: messageID[:],
	})
	ciphertext, err := r.noiseMgr.Encrypt(sessionKey(to), envelope)
	if err != nil {
		return nil
	}
	reply := &protocol.Packet{
		Version:     protocol.Version2,
		Type:        protocol.TypeNoiseEncrypted,
		TTL:         8,
		Timestamp:   nowMillis(),
		SenderID:    r.localPeerID,
		RecipientID: &to,
		Payload:     ciphertext,
	}
	return r.sendToPeer(to, reply)
}

// handleRequestSync answers a REQUEST_SYNC by handing it to GossipSync
// and sending each missing candidate directly back on the inbound link.
func (r *Router) handleRequestSync(p *protocol.Packet, inboundLink relay.LinkID) error {
	req, err := protocol.DecodeRequestSync(p.Payload)
	if err != nil {
		return nil
	}
	for _, missing := range r.gossipSync.HandleRequestSync(req) {
		_ = r.sender.SendDirect(inboundLink, missing)
	}
	return nil
}

// handleFileTransfer decodes an unencrypted FILE_TRANSFER packet and
// saves its payload through the storage collaborator.
func (r *Router) handleFileTransfer(p *protocol.Packet) error {
	file, err := protocol.DecodeFilePacket(p.Payload)
	if err != nil {
		return nil
	}
	path, err := r.files.SaveIncoming(file.FileName, file.Content)
	if err != nil {
		return nil
	}
	if r.events.OnFileReceived != nil {
		r.events.OnFileReceived(p.SenderID, path, file)
	}
	r.gossipSync.Insert(protocol.SyncClassFileTransfer, p)
	return nil
}
