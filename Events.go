/*
File Name:  Events.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Events allow the caller to intercept the capability-set notifications.
The functions must not modify any data; if a handler needs to do real
work it should start a goroutine.
*/

package core

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/radio"
)

// Events contains every notification the capability API emits. Use nil
// for any event the caller does not care about.
type Events struct {
	OnStarted func(peerID protocol.PeerID)
	OnStopped func()

	OnConnected    func(peerID protocol.PeerID)
	OnDisconnected func(peerID protocol.PeerID)

	OnFound func(adv radio.Advertisement)
	OnLost  func(peerID protocol.PeerID)

	OnSent     func(messageID [16]byte)
	OnReceived func(peerID protocol.PeerID, content []byte, isPrivate bool)

	OnRSSIUpdated     func(peerID protocol.PeerID, rssi int)
	OnPeerListUpdated func(peers []protocol.PeerID)
	OnEstablished     func(peerID protocol.PeerID)

	// LogError receives every error the backend logs, with the format and
	// arguments as passed; no sanitization is applied (fingerprints are not
	// truncated, binary blobs are not elided). Distinct from the log.Logger
	// sink, which receives the same text as plain log lines.
	LogError func(function, format string, v ...interface{})
}

// initEvents fills any unset callback with a no-op so the rest of the
// backend can call them unconditionally.
func (backend *Backend) initEvents() {
	if backend.Events.OnStarted == nil {
		backend.Events.OnStarted = func(protocol.PeerID) {}
	}
	if backend.Events.OnStopped == nil {
		backend.Events.OnStopped = func() {}
	}
	if backend.Events.OnConnected == nil {
		backend.Events.OnConnected = func(protocol.PeerID) {}
	}
	if backend.Events.OnDisconnected == nil {
		backend.Events.OnDisconnected = func(protocol.PeerID) {}
	}
	if backend.Events.OnFound == nil {
		backend.Events.OnFound = func(radio.Advertisement) {}
	}
	if backend.Events.OnLost == nil {
		backend.Events.OnLost = func(protocol.PeerID) {}
	}
	if backend.Events.OnSent == nil {
		backend.Events.OnSent = func([16]byte) {}
	}
	if backend.Events.OnReceived == nil {
		backend.Events.OnReceived = func(protocol.PeerID, []byte, bool) {}
	}
	if backend.Events.OnRSSIUpdated == nil {
		backend.Events.OnRSSIUpdated = func(protocol.PeerID, int) {}
	}
	if backend.Events.OnPeerListUpdated == nil {
		backend.Events.OnPeerListUpdated = func([]protocol.PeerID) {}
	}
	if backend.Events.OnEstablished == nil {
		backend.Events.OnEstablished = func(protocol.PeerID) {}
	}
	if backend.Events.LogError == nil {
		backend.Events.LogError = func(function, format string, v ...interface{}) {}
	}

	backend.wireEventBus()
}

// wireEventBus wraps every already-resolved callback so it also
// publishes onto the event bus, leaving the caller's own handling
// untouched.
func (backend *Backend) wireEventBus() {
	if backend.eventBus == nil {
		backend.eventBus = newEventBus()
	}

	onStarted := backend.Events.OnStarted
	backend.Events.OnStarted = func(peerID protocol.PeerID) {
		onStarted(peerID)
		backend.eventBus.publish("started", peerID.String())
	}
	onStopped := backend.Events.OnStopped
	backend.Events.OnStopped = func() {
		onStopped()
		backend.eventBus.publish("stopped", nil)
	}
	onConnected := backend.Events.OnConnected
	backend.Events.OnConnected = func(peerID protocol.PeerID) {
		onConnected(peerID)
		backend.eventBus.publish("connected", peerID.String())
	}
	onDisconnected := backend.Events.OnDisconnected
	backend.Events.OnDisconnected = func(peerID protocol.PeerID) {
		onDisconnected(peerID)
		backend.eventBus.publish("disconnected", peerID.String())
	}
	onFound := backend.Events.OnFound
	backend.Events.OnFound = func(adv radio.Advertisement) {
		onFound(adv)
		backend.eventBus.publish("found", adv.LocalName)
	}
	onLost := backend.Events.OnLost
	backend.Events.OnLost = func(peerID protocol.PeerID) {
		onLost(peerID)
		backend.eventBus.publish("lost", peerID.String())
	}
	onSent := backend.Events.OnSent
	backend.Events.OnSent = func(messageID [16]byte) {
		onSent(messageID)
		backend.eventBus.publish("sent", messageID)
	}
	onReceived := backend.Events.OnReceived
	backend.Events.OnReceived = func(peerID protocol.PeerID, content []byte, isPrivate bool) {
		onReceived(peerID, content, isPrivate)
		backend.eventBus.publish("received", map[string]interface{}{
			"peerID":    peerID.String(),
			"bytes":     len(content),
			"isPrivate": isPrivate,
		})
	}
	onRSSIUpdated := backend.Events.OnRSSIUpdated
	backend.Events.OnRSSIUpdated = func(peerID protocol.PeerID, rssi int) {
		onRSSIUpdated(peerID, rssi)
		backend.eventBus.publish("rssi", map[string]interface{}{"peerID": peerID.String(), "rssi": rssi})
	}
	onPeerListUpdated := backend.Events.OnPeerListUpdated
	backend.Events.OnPeerListUpdated = func(peers []protocol.PeerID) {
		onPeerListUpdated(peers)
		ids := make([]string, len(peers))
		for i, p := range peers {
			ids[i] = p.String()
		}
		backend.eventBus.publish("peerlist", ids)
	}
	onEstablished := backend.Events.OnEstablished
	backend.Events.OnEstablished = func(peerID protocol.PeerID) {
		onEstablished(peerID)
		backend.eventBus.publish("established", peerID.String())
	}
}

// LogError records an error via the standard logger and the LogError
// event hook: every error path funnels through here by convention.
func (backend *Backend) LogError(function, format string, v ...interface{}) {
	backend.Logger.Printf("["+function+"] "+format, v...)
	backend.Events.LogError(function, format, v...)
}

// DebugEvent is a capability-API notification rebroadcast onto the
// event bus, for introspection surfaces that must observe every event
// without replacing the caller's own Events callbacks.
type DebugEvent struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// eventBus fans every capability-API event out to subscribers, the
// same duplicate-to-everyone shape as multiWriter but for structured
// events instead of log lines.
type eventBus struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan DebugEvent
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[uuid.UUID]chan DebugEvent)}
}

// subscribe registers a new listener with a small buffer; a slow
// subscriber drops events rather than blocking the backend.
func (b *eventBus) subscribe() (uuid.UUID, <-chan DebugEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.New()
	ch := make(chan DebugEvent, 32)
	b.subs[id] = ch
	return id, ch
}

func (b *eventBus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *eventBus) publish(kind string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- DebugEvent{Kind: kind, Data: data}:
		default:
		}
	}
}

// SubscribeEvents registers a listener for every capability-API event,
// for an introspection surface that must observe traffic without
// owning the Events struct itself. Call UnsubscribeEvents when done.
func (backend *Backend) SubscribeEvents() (uuid.UUID, <-chan DebugEvent) {
	return backend.eventBus.subscribe()
}

// UnsubscribeEvents removes a listener registered via SubscribeEvents.
func (backend *Backend) UnsubscribeEvents(id uuid.UUID) {
	backend.eventBus.unsubscribe(id)
}

// multiWriter duplicates writes to every subscribed writer, letting
// callers tap the log stream (e.g. a debug-API console) without
// replacing the file sink.
type multiWriter struct {
	writers map[uuid.UUID]io.Writer
	sync.Mutex
}

func newMultiWriter() *multiWriter {
	return &multiWriter{writers: make(map[uuid.UUID]io.Writer)}
}

// Subscribe adds a writer to the fanout set.
func (m *multiWriter) Subscribe(writer io.Writer) (id uuid.UUID) {
	m.Lock()
	defer m.Unlock()
	id = uuid.New()
	m.writers[id] = writer
	return id
}

// Unsubscribe removes a previously subscribed writer.
func (m *multiWriter) Unsubscribe(id uuid.UUID) {
	m.Lock()
	defer m.Unlock()
	delete(m.writers, id)
}

// Write fans p out to every subscribed writer. It never returns an
// error; a failing subscriber simply misses the line.
func (m *multiWriter) Write(p []byte) (n int, err error) {
	m.Lock()
	defer m.Unlock()
	for _, w := range m.writers {
		w.Write(p)
	}
	return len(p), nil
}
