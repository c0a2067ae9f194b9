// Package radio specifies the BLE peripheral/central capability surface
// the rest of the module is built against, a deterministic in-memory
// test double implementing it, and the duty-cycle/connection-tracking/
// broadcast machinery layered on top. The real platform binding (CoreBluetooth,
// BlueZ, a mobile bridge) is an external collaborator that supplies its
// own implementation of Peripheral and Central.
package radio

import "github.com/vaultmesh/core/relay"

// UUID is a 128-bit BLE identifier in canonical hex-with-hyphens form.
type UUID string

// Canonical service/characteristic/descriptor identifiers.
const (
	ServiceUUID        UUID = "F47B5E2D-4A9E-4C5A-9B3F-8E1D2C3A4B5C"
	CharacteristicUUID UUID = "A1B2C3D4-E5F6-4A5B-8C9D-0E1F2A3B4C5D"
	CCCDUUID           UUID = "00002902-0000-1000-8000-00805F9B34FB"
)

// Advertisement is the BLE advertising payload this mesh emits. Field
// naming follows the reference GATT library's Advertisement/UUID
// vocabulary (see DESIGN.md) though that library itself is not imported
// -- the platform binding supplies the real advertising packet encoding.
type Advertisement struct {
	LocalName string
	Services  []UUID
}

// Peripheral is the capability surface for the peripheral (GATT server)
// role: advertise a service, accept write/subscribe from centrals,
// notify subscribed centrals on the characteristic.
type Peripheral interface {
	Advertise(adv Advertisement) error
	StopAdvertising() error
	Notify(link relay.LinkID, data []byte) error
	SetSubscribeHandler(fn func(link relay.LinkID))
	SetWriteHandler(fn func(link relay.LinkID, data []byte))
}

// Central is the capability surface for the central (scanner) role:
// scan for advertisements, connect, write to the peripheral's
// characteristic, and receive its notifications.
type Central interface {
	StartScan(fn func(adv Advertisement, link relay.LinkID)) error
	StopScan() error
	Connect(link relay.LinkID) error
	Disconnect(link relay.LinkID) error
	Write(link relay.LinkID, data []byte) error
	SetNotifyHandler(fn func(link relay.LinkID, data []byte))
}
