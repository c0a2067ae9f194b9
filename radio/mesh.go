package radio

import (
	"errors"
	"sync"

	"github.com/vaultmesh/core/relay"
)

// ErrNotConnected is returned by a MeshNode operation against a link id
// the Mesh has no record of.
var ErrNotConnected = errors.New("radio: link not connected")

// Mesh is a deterministic in-memory test double implementing both
// Peripheral and Central for every node it creates, so the duty-cycle,
// GATT dispatch, and relay logic can be exercised without real
// Bluetooth hardware.
type Mesh struct {
	mu    sync.Mutex
	nodes map[string]*MeshNode
}

// NewMesh creates an empty in-memory mesh.
func NewMesh() *Mesh {
	return &Mesh{nodes: make(map[string]*MeshNode)}
}

// Node returns the named node, creating it if this is the first
// reference.
func (m *Mesh) Node(name string) *MeshNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[name]
	if !ok {
		n = &MeshNode{
			name:  name,
			mesh:  m,
			peers: make(map[relay.LinkID]*peerEnd),
		}
		m.nodes[name] = n
	}
	return n
}

// Connect wires centralName as a central connected to peripheralName's
// peripheral role: peripheralName.Notify reaches centerName's notify
// handler, and centerName.Write reaches peripheralName's write handler.
// It returns the link ID as seen from each side, and fires the
// peripheral's subscribe handler as CCCD subscription would.
func (m *Mesh) Connect(peripheralName, centralName string) (linkOnPeripheral, linkOnCentral relay.LinkID) {
	peripheral := m.Node(peripheralName)
	central := m.Node(centralName)

	linkOnPeripheral = relay.LinkID(peripheralName + "->" + centralName)
	linkOnCentral = relay.LinkID(centralName + "->" + peripheralName)

	peripheral.mu.Lock()
	peripheral.peers[linkOnPeripheral] = &peerEnd{node: central, remoteLink: linkOnCentral}
	subscribeHandler := peripheral.subscribeHandler
	peripheral.mu.Unlock()

	central.mu.Lock()
	central.peers[linkOnCentral] = &peerEnd{node: peripheral, remoteLink: linkOnPeripheral}
	central.mu.Unlock()

	if subscribeHandler != nil {
		subscribeHandler(linkOnPeripheral)
	}
	return linkOnPeripheral, linkOnCentral
}

type peerEnd struct {
	node       *MeshNode
	remoteLink relay.LinkID
}

// MeshNode implements both Peripheral and Central against a Mesh.
type MeshNode struct {
	name string
	mesh *Mesh

	mu    sync.Mutex
	peers map[relay.LinkID]*peerEnd

	advertisement     Advertisement
	subscribeHandler  func(link relay.LinkID)
	peripheralWriteFn func(link relay.LinkID, data []byte)
	centralNotifyFn   func(link relay.LinkID, data []byte)
	scanHandler       func(adv Advertisement, link relay.LinkID)
}

// Advertise records the advertisement payload (Peripheral).
func (n *MeshNode) Advertise(adv Advertisement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advertisement = adv
	return nil
}

// StopAdvertising is a no-op on the in-memory double (Peripheral).
func (n *MeshNode) StopAdvertising() error { return nil }

// Notify delivers data to the central on the far end of link, as a
// peripheral notification (Peripheral).
func (n *MeshNode) Notify(link relay.LinkID, data []byte) error {
	n.mu.Lock()
	end, ok := n.peers[link]
	n.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	end.node.mu.Lock()
	fn := end.node.centralNotifyFn
	end.node.mu.Unlock()
	if fn != nil {
		fn(end.remoteLink, data)
	}
	return nil
}

// SetSubscribeHandler registers the CCCD-subscribe callback (Peripheral).
func (n *MeshNode) SetSubscribeHandler(fn func(link relay.LinkID)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribeHandler = fn
}

// SetWriteHandler registers the inbound-write callback (Peripheral).
func (n *MeshNode) SetWriteHandler(fn func(link relay.LinkID, data []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peripheralWriteFn = fn
}

// StartScan replays advertisements of every node this one already has a
// link to, simulating discovery (Central). Real scanning timing is not
// modeled; tests call Mesh.Connect directly to establish links.
func (n *MeshNode) StartScan(fn func(adv Advertisement, link relay.LinkID)) error {
	n.mu.Lock()
	n.scanHandler = fn
	peers := make(map[relay.LinkID]*peerEnd, len(n.peers))
	for k, v := range n.peers {
		peers[k] = v
	}
	n.mu.Unlock()

	for link, end := range peers {
		end.node.mu.Lock()
		adv := end.node.advertisement
		end.node.mu.Unlock()
		fn(adv, link)
	}
	return nil
}

// StopScan clears the scan handler (Central).
func (n *MeshNode) StopScan() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scanHandler = nil
	return nil
}

// Connect is a no-op on the in-memory double: links are established via
// Mesh.Connect (Central).
func (n *MeshNode) Connect(link relay.LinkID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[link]; !ok {
		return ErrNotConnected
	}
	return nil
}

// Disconnect removes the link from this node's view (Central).
func (n *MeshNode) Disconnect(link relay.LinkID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, link)
	return nil
}

// Write delivers data to the peripheral on the far end of link, as a
// central write (Central).
func (n *MeshNode) Write(link relay.LinkID, data []byte) error {
	n.mu.Lock()
	end, ok := n.peers[link]
	n.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	end.node.mu.Lock()
	fn := end.node.peripheralWriteFn
	end.node.mu.Unlock()
	if fn != nil {
		fn(end.remoteLink, data)
	}
	return nil
}

// SetNotifyHandler registers the inbound-notification callback (Central).
func (n *MeshNode) SetNotifyHandler(fn func(link relay.LinkID, data []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.centralNotifyFn = fn
}
