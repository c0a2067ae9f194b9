package gossip

import (
	"sync"
	"time"

	"github.com/vaultmesh/core/protocol"
)

// Schedule intervals for anti-entropy sync.
const (
	messageSyncInterval      = 15 * time.Second
	fragmentSyncInterval     = 30 * time.Second
	fileTransferSyncInterval = 60 * time.Second
	maintenanceInterval      = 30 * time.Second
	newLinkSyncDelay         = 5 * time.Second
)

var (
	messageClasses = []protocol.SyncClass{
		protocol.SyncClassAnnounce,
		protocol.SyncClassMessage,
		protocol.SyncClassLeave,
		protocol.SyncClassNoiseEncrypted,
	}
	fragmentClasses     = []protocol.SyncClass{protocol.SyncClassFragment}
	fileTransferClasses = []protocol.SyncClass{protocol.SyncClassFileTransfer}
	allClasses          = []protocol.SyncClass{
		protocol.SyncClassAnnounce,
		protocol.SyncClassMessage,
		protocol.SyncClassLeave,
		protocol.SyncClassNoiseHandshake,
		protocol.SyncClassNoiseEncrypted,
		protocol.SyncClassFragment,
		protocol.SyncClassRequestSync,
		protocol.SyncClassFileTransfer,
	}
)

func bitmapFor(classes []protocol.SyncClass) uint64 {
	var bitmap uint64
	for _, c := range classes {
		bitmap |= 1 << uint(c)
	}
	return bitmap
}

// Sender delivers a built RequestSync: target nil means broadcast,
// non-nil addresses a single peer (the new-link catch-up round).
type Sender func(req *protocol.RequestSync, target *protocol.PeerID) error

// GossipSync schedules anti-entropy rounds and answers incoming
// REQUEST_SYNC packets against a local SyncStore. Grounded on the root
// package's old auto-delete-worker background-ticker idiom, generalized
// to several independently-scheduled tickers rather than one.
type GossipSync struct {
	store *SyncStore
	send  Sender

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewGossipSync creates a GossipSync over store, using send to deliver
// built REQUEST_SYNC packets.
func NewGossipSync(store *SyncStore, send Sender) *GossipSync {
	return &GossipSync{
		store:  store,
		send:   send,
		stopCh: make(chan struct{}),
	}
}

// Start launches the periodic anti-entropy tickers. Safe to call once.
func (g *GossipSync) Start() {
	g.runTicker(messageSyncInterval, func() { g.roundFor(messageClasses, nil) })
	g.runTicker(fragmentSyncInterval, func() { g.roundFor(fragmentClasses, nil) })
	g.runTicker(fileTransferSyncInterval, func() { g.roundFor(fileTransferClasses, nil) })
	g.runTicker(maintenanceInterval, g.store.Prune)
}

func (g *GossipSync) runTicker(interval time.Duration, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-g.stopCh:
				return
			}
		}
	}()
}

// Stop halts all scheduled tickers. Idempotent.
func (g *GossipSync) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	close(g.stopCh)
	g.mu.Unlock()
	g.wg.Wait()
}

// NewLinkEstablished schedules a full-class catch-up round to peerID
// newLinkSyncDelay after the link came up.
func (g *GossipSync) NewLinkEstablished(peerID protocol.PeerID) {
	g.wg.Add(1)
	time.AfterFunc(newLinkSyncDelay, func() {
		defer g.wg.Done()
		select {
		case <-g.stopCh:
			return
		default:
		}
		target := peerID
		g.roundFor(allClasses, &target)
	})
}

func (g *GossipSync) roundFor(classes []protocol.SyncClass, target *protocol.PeerID) {
	req, err := g.BuildRequestSync(classes)
	if err != nil {
		return
	}
	_ = g.send(req, target)
}

// Insert admits a locally-known packet into the store under class, for
// later candidacy against peers' REQUEST_SYNC filters.
func (g *GossipSync) Insert(class protocol.SyncClass, p *protocol.Packet) {
	g.store.Insert(class, p)
}

// BuildRequestSync builds a RequestSync payload covering classes, from
// the locally-known packet IDs in those classes.
func (g *GossipSync) BuildRequestSync(classes []protocol.SyncClass) (*protocol.RequestSync, error) {
	ids := g.store.LocalIDs(classes)
	p, m, data, err := BuildFilter(ids)
	if err != nil {
		return nil, err
	}
	return &protocol.RequestSync{
		P:          p,
		M:          m,
		Filter:     data,
		TypeBitmap: bitmapFor(classes),
	}, nil
}

// HandleRequestSync answers an incoming REQUEST_SYNC: for every locally
// known, fresh candidate in the requested classes whose ID is absent
// from the requester's filter, it returns a TTL-0 clone ready to be sent
// directly back (no further relay),
func (g *GossipSync) HandleRequestSync(req *protocol.RequestSync) []*protocol.Packet {
	var classes []protocol.SyncClass
	for _, c := range allClasses {
		if req.HasClass(c) {
			classes = append(classes, c)
		}
	}

	candidates := g.store.Candidates(classes)
	var missing []*protocol.Packet
	for _, p := range candidates {
		id := protocol.IDOf(p)
		present, err := MatchesFilter(req, id)
		if err != nil || present {
			continue
		}
		reply := *p
		reply.TTL = 0
		missing = append(missing, &reply)
	}
	return missing
}
