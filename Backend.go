/*
File Name:  Backend.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"crypto/rand"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vaultmesh/core/gossip"
	"github.com/vaultmesh/core/identity"
	"github.com/vaultmesh/core/noise"
	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/radio"
	"github.com/vaultmesh/core/relay"
	"github.com/vaultmesh/core/router"
	"github.com/vaultmesh/core/store"
)

// lifecycle states, initialize -> start -> (active) -> stop.
const (
	stateNotInitialized = iota
	stateInitialized
	stateStarted
)

// seenSetCapacity is the SeenSet bound, the relay package's default of
// 10000 packet IDs. handshakeOutboxLimit caps the messages queued per peer
// while a handshake is pending.
const (
	seenSetCapacity     = 10000
	handshakeOutboxLimit = 32
)

// Backend represents one running mesh node, created by Init and driven
// through initialize (done inside Init) / Start / Stop.
type Backend struct {
	ConfigFilename string // Filename of the configuration file.
	Config         Config // Loaded configuration.
	userAgent      string

	Logger *log.Logger  // Subsequent log lines go here (and to Stdout's subscribers).
	Stdout *multiWriter // Bundles log output for subscribing frontends.
	Events Events        // Capability-API notifications.

	eventBus *eventBus // Fanout of every Events notification, for introspection surfaces.

	mu     sync.Mutex
	state  int
	stopCh chan struct{}

	dataDir string
	peerID  protocol.PeerID

	peers   map[protocol.PeerID]time.Time
	peersMu sync.Mutex

	identity    *identity.Store
	noiseMgr    *noise.Manager
	gossipStore *gossip.SyncStore
	gossipSync  *gossip.GossipSync
	relayMgr    *relay.Manager
	tracker     *radio.ConnectionTracker
	broadcaster *radio.Broadcaster
	scanAdv     *radio.ScanAdvertiseController
	router      *router.Router
	files       *fileStore

	peripheral radio.Peripheral
	central    radio.Central

	outbox      map[protocol.PeerID][]outboxEntry
	outboxMu    sync.Mutex
}

type outboxEntry struct {
	messageID [16]byte
	content   []byte
}

// Init initializes a node: loads configuration, opens the encrypted
// identity store, and wires every component (identity, Noise, gossip,
// relay, router) over the given radio capability pair. This realizes
// "initialize" step. The returned status is an ExitX
// constant; anything other than ExitSuccess is a fatal failure.
func Init(userAgent, configFilename string, peripheral radio.Peripheral, central radio.Central, events *Events) (backend *Backend, status int, err error) {
	if userAgent == "" {
		return nil, ExitErrorConfigParse, errors.New("core: userAgent must not be empty")
	}

	backend = &Backend{
		ConfigFilename: configFilename,
		userAgent:      userAgent,
		Stdout:         newMultiWriter(),
		peripheral:     peripheral,
		central:        central,
		outbox:         make(map[protocol.PeerID][]outboxEntry),
		peers:          make(map[protocol.PeerID]time.Time),
	}
	if events != nil {
		backend.Events = *events
	}
	backend.initEvents()

	if status, err = LoadConfig(configFilename, &backend.Config); status != ExitSuccess {
		return nil, status, err
	}

	backend.Logger = log.New(backend.Stdout, "", log.LstdFlags)
	if backend.Config.LogFile != "" {
		logFile, ferr := os.OpenFile(backend.Config.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if ferr != nil {
			return nil, ExitErrorLogInit, ferr
		}
		backend.Stdout.Subscribe(logFile)
	}

	backend.dataDir = backend.Config.DataDirectory
	if backend.dataDir == "" {
		backend.dataDir = "data"
	}
	if err = os.MkdirAll(backend.dataDir, 0700); err != nil {
		return nil, ExitErrorStorage, err
	}

	if err = backend.initIdentity(); err != nil {
		return nil, ExitErrorIdentity, err
	}
	backend.initCrypto()
	backend.initRadio()
	backend.files = newFileStore(filepath.Join(backend.dataDir, "files", "incoming"))

	backend.mu.Lock()
	backend.state = stateInitialized
	backend.mu.Unlock()

	return backend, ExitSuccess, nil
}

// initIdentity opens the encrypted identity store under the data
// directory, generating a fresh key pair on first run.
func (backend *Backend) initIdentity() error {
	backing, err := store.NewPogrebStore(filepath.Join(backend.dataDir, "identity.db"))
	if err != nil {
		return err
	}

	var envelopeKey [32]byte
	keyPath := filepath.Join(backend.dataDir, "envelope.key")
	if data, rerr := os.ReadFile(keyPath); rerr == nil && len(data) == 32 {
		copy(envelopeKey[:], data)
	} else {
		if _, rerr := rand.Read(envelopeKey[:]); rerr != nil {
			return rerr
		}
		if werr := os.WriteFile(keyPath, envelopeKey[:], 0600); werr != nil {
			return werr
		}
	}

	idStore, err := identity.Open(backing, envelopeKey, backend.Logger)
	if err != nil {
		return err
	}
	backend.identity = idStore
	backend.peerID = protocol.PeerID(idStore.PeerID())
	return nil
}

// initCrypto wires the Noise session manager, gossip anti-entropy, and
// the relay engine over the identity just loaded.
func (backend *Backend) initCrypto() {
	backend.noiseMgr = noise.NewManager(backend.identity.Static.PrivateKey, backend.identity.Static.PublicKey, backend.peerID)
	backend.gossipStore = gossip.NewSyncStore()
	backend.gossipSync = gossip.NewGossipSync(backend.gossipStore, backend.sendRequestSync)
}

// initRadio wires the connection tracker, broadcaster, and
// scan/advertise controller over the supplied capability pair. Network
// size is estimated from the current direct-link count, a documented
// approximation since a node can only observe its own neighbors.
func (backend *Backend) initRadio() {
	backend.tracker = radio.NewConnectionTracker()
	backend.broadcaster = radio.NewBroadcaster(backend.peripheral, backend.central, backend.tracker)

	networkSize := func() int { return len(backend.tracker.Links()) }
	backend.relayMgr = relay.NewManager(backend.peerID, backend.broadcaster, backend.tracker, networkSize, seenSetCapacity, randomSeed())

	class := batteryClassFromString(backend.Config.Battery)
	adv := radio.Advertisement{LocalName: backend.Config.Nickname, Services: []radio.UUID{radio.ServiceUUID}}
	backend.scanAdv = radio.NewScanAdvertiseController(backend.central, backend.peripheral, backend.tracker, class, adv, backend.onFound)

	backend.router = router.New(backend.peerID, backend.identity, backend.noiseMgr, backend.gossipSync, backend.relayMgr, protocol.NewReassembler(), backend.broadcaster, backend.files, backend.routerEvents())

	backend.peripheral.SetWriteHandler(backend.onIncomingBytes)
	backend.peripheral.SetSubscribeHandler(func(link relay.LinkID) { backend.tracker.MarkSubscribed(link) })
	backend.central.SetNotifyHandler(backend.onIncomingBytes)
}

func batteryClassFromString(s string) radio.BatteryClass {
	switch s {
	case "powersave":
		return radio.BatteryPowerSave
	case "ultralow":
		return radio.BatteryUltraLow
	default:
		return radio.BatteryNormal
	}
}

func randomSeed() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	var seed int64
	for _, v := range b {
		seed = seed<<8 | int64(v)
	}
	if seed < 0 {
		seed = -seed
	}
	return seed
}

// isInitialized reports whether Init has completed.
func (backend *Backend) isInitialized() bool {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	return backend.state >= stateInitialized
}

// isStarted reports whether Start has completed and Stop has not since
// been called.
func (backend *Backend) isStarted() bool {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	return backend.state == stateStarted
}

// onIncomingBytes decodes a frame received from either radio role and
// hands it to the router. Malformed frames are dropped silently.
func (backend *Backend) onIncomingBytes(link relay.LinkID, data []byte) {
	p, err := protocol.Decode(data)
	if err != nil {
		return
	}
	if err := backend.router.Handle(p, link); err != nil {
		backend.LogError("onIncomingBytes", "router.Handle: %v", err)
	}
}

// sendRequestSync is the gossip.Sender collaborator: it wraps a built
// REQUEST_SYNC in a wire packet and fans it out, broadcast if target is
// nil or direct to a known link otherwise.
func (backend *Backend) sendRequestSync(req *protocol.RequestSync, target *protocol.PeerID) error {
	p := &protocol.Packet{
		Version:   protocol.Version2,
		Type:      protocol.TypeRequestSync,
		TTL:       0,
		Timestamp: nowMillisBackend(),
		SenderID:  backend.peerID,
		Payload:   protocol.EncodeRequestSync(req),
	}
	if target == nil {
		return backend.broadcaster.Broadcast(p, nil)
	}
	p.RecipientID = target
	if link, ok := backend.tracker.LinkForPeer(*target); ok {
		return backend.broadcaster.SendDirect(link, p)
	}
	return backend.broadcaster.Broadcast(p, nil)
}
