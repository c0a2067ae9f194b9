package radio

import (
	"sync"
	"time"

	"github.com/vaultmesh/core/protocol"
	"github.com/vaultmesh/core/relay"
)

// interFragmentPacing is the minimum delay between successive fragment
// (or frame) writes.
const interFragmentPacing = 20 * time.Millisecond

// deadLinkRemovalDelay is how long after a write failure the offending
// link is removed from the tracker.
const deadLinkRemovalDelay = 200 * time.Millisecond

type broadcastJob struct {
	packet     *protocol.Packet
	skip       map[relay.LinkID]bool
	direct     relay.LinkID
	transferID string
}

// Broadcaster is a single-consumer serialized actor: all outbound writes
// to radio links are strictly ordered by arrival into its mailbox. It
// implements relay.Fanout.
type Broadcaster struct {
	peripheral Peripheral
	central    Central
	tracker    *ConnectionTracker

	onProgress  func(transferID string, sent, total int)
	onComplete  func(transferID string)
	onCancelled func(transferID string)

	mailbox chan broadcastJob

	mu        sync.Mutex
	cancelled map[string]bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewBroadcaster creates a Broadcaster over the given capability pair
// and tracker. Callers assign onProgress/onComplete/onCancelled before
// Start if they want transfer events.
func NewBroadcaster(peripheral Peripheral, central Central, tracker *ConnectionTracker) *Broadcaster {
	return &Broadcaster{
		peripheral: peripheral,
		central:    central,
		tracker:    tracker,
		mailbox:    make(chan broadcastJob, 256),
		cancelled:  make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the mailbox-draining goroutine.
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case job := <-b.mailbox:
				b.process(job)
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop drains the mailbox's consumer. Queued-but-unprocessed jobs are
// dropped.
func (b *Broadcaster) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// Broadcast enqueues a fanout send (relay.Fanout). The mailbox holds 256
// jobs; when it is full, Broadcast blocks until the consumer takes one.
// Nothing is dropped.
func (b *Broadcaster) Broadcast(p *protocol.Packet, skip map[relay.LinkID]bool) error {
	b.mailbox <- broadcastJob{packet: p, skip: skip}
	return nil
}

// SendDirect enqueues a single-link send (relay.Fanout).
func (b *Broadcaster) SendDirect(link relay.LinkID, p *protocol.Packet) error {
	b.mailbox <- broadcastJob{packet: p, direct: link}
	return nil
}

// Send enqueues an application-originated transfer, tagged with a
// transferId for progress/completion/cancellation events.
func (b *Broadcaster) Send(p *protocol.Packet, skip map[relay.LinkID]bool, transferID string) error {
	b.mailbox <- broadcastJob{packet: p, skip: skip, transferID: transferID}
	return nil
}

// Cancel marks a transfer cancelled: fragments not yet written are
// suppressed and a cancelled event is emitted; fragments already
// enqueued below the radio driver are not recalled.
func (b *Broadcaster) Cancel(transferID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled[transferID] = true
}

func (b *Broadcaster) isCancelled(transferID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled[transferID]
}

func (b *Broadcaster) clearCancelled(transferID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cancelled, transferID)
}

// process encodes the packet, fragments it if needed, and writes each
// resulting frame to every eligible link with inter-frame pacing.
func (b *Broadcaster) process(job broadcastJob) {
	frames, err := encodeFrames(job.packet)
	if err != nil {
		return
	}

	total := len(frames)
	for i, frame := range frames {
		if job.transferID != "" && b.isCancelled(job.transferID) {
			if b.onCancelled != nil {
				b.onCancelled(job.transferID)
			}
			b.clearCancelled(job.transferID)
			return
		}

		if job.direct != "" {
			b.writeLink(job.direct, frame)
		} else {
			for _, link := range b.tracker.Links() {
				if job.skip[link] {
					continue
				}
				b.writeLink(link, frame)
			}
		}

		if job.transferID != "" && b.onProgress != nil {
			b.onProgress(job.transferID, i+1, total)
		}
		if i < total-1 {
			time.Sleep(interFragmentPacing)
		}
	}

	if job.transferID != "" && b.onComplete != nil {
		b.onComplete(job.transferID)
	}
}

// encodeFrames encodes p, fragmenting into ordered wire frames if the
// unpadded encoding exceeds the fragmentation trigger.
func encodeFrames(p *protocol.Packet) ([][]byte, error) {
	needsFrag, err := protocol.NeedsFragmentation(p)
	if err != nil {
		return nil, err
	}
	if !needsFrag {
		encoded, err := protocol.Encode(p, true)
		if err != nil {
			return nil, err
		}
		return [][]byte{encoded}, nil
	}

	fragments, err := protocol.Split(p)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, 0, len(fragments))
	for _, fragment := range fragments {
		data, err := protocol.Encode(fragment, false)
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// writeLink dispatches to Peripheral.Notify or Central.Write depending
// on the link's tracked role, and on failure schedules the link's
// removal per the backpressure rule: the Broadcaster does
// not retry the same frame on the same dead link.
func (b *Broadcaster) writeLink(link relay.LinkID, data []byte) {
	role, ok := b.tracker.RoleOf(link)
	if !ok {
		return
	}

	var err error
	if role == RolePeripheral {
		err = b.peripheral.Notify(link, data)
	} else {
		err = b.central.Write(link, data)
	}
	if err != nil {
		time.AfterFunc(deadLinkRemovalDelay, func() {
			b.tracker.RemoveLink(link)
		})
	}
}
