package radio

import (
	"sync"
	"time"

	"github.com/vaultmesh/core/relay"
)

// BatteryClass selects a duty-cycle row from the power policy table.
type BatteryClass int

const (
	BatteryNormal BatteryClass = iota
	BatteryPowerSave
	BatteryUltraLow
)

// dutyCycle is one row of the (scanOn, scanOff, maxConnections) table.
// The concrete values are a deliberate, documented assumption (see
// DESIGN.md).
type dutyCycle struct {
	scanOn         time.Duration
	scanOff        time.Duration
	maxConnections int
}

var dutyCycleTable = map[BatteryClass]dutyCycle{
	BatteryNormal:    {scanOn: 3 * time.Second, scanOff: 2 * time.Second, maxConnections: 8},
	BatteryPowerSave: {scanOn: 1 * time.Second, scanOff: 4 * time.Second, maxConnections: 4},
	BatteryUltraLow:  {scanOn: 500 * time.Millisecond, scanOff: 9500 * time.Millisecond, maxConnections: 2},
}

// ScanAdvertiseController duty-cycles scan and advertisement according
// to the power policy, and feeds newly-discovered/newly-subscribed links
// into a ConnectionTracker.
type ScanAdvertiseController struct {
	central    Central
	peripheral Peripheral
	tracker    *ConnectionTracker
	class      BatteryClass
	adv        Advertisement
	onFound    func(adv Advertisement, link relay.LinkID)

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScanAdvertiseController wires a controller over the given
// capability pair and tracker, for the given battery class.
func NewScanAdvertiseController(central Central, peripheral Peripheral, tracker *ConnectionTracker, class BatteryClass, adv Advertisement, onFound func(adv Advertisement, link relay.LinkID)) *ScanAdvertiseController {
	return &ScanAdvertiseController{
		central:    central,
		peripheral: peripheral,
		tracker:    tracker,
		class:      class,
		adv:        adv,
		onFound:    onFound,
		stopCh:     make(chan struct{}),
	}
}

// MaxConnections reports the connection ceiling for the current battery
// class.
func (c *ScanAdvertiseController) MaxConnections() int {
	return dutyCycleTable[c.class].maxConnections
}

// Start begins advertising and the duty-cycled scan loop.
func (c *ScanAdvertiseController) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.peripheral.SetSubscribeHandler(func(link relay.LinkID) {
		c.tracker.AddLink(link, RolePeripheral)
		c.tracker.MarkSubscribed(link)
	})

	if err := c.peripheral.Advertise(c.adv); err != nil {
		return err
	}

	cycle := dutyCycleTable[c.class]
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stopCh:
				return
			default:
			}

			c.central.StartScan(func(adv Advertisement, link relay.LinkID) {
				c.tracker.AddLink(link, RoleCentral)
				if c.onFound != nil {
					c.onFound(adv, link)
				}
			})

			select {
			case <-time.After(cycle.scanOn):
			case <-c.stopCh:
				c.central.StopScan()
				return
			}
			c.central.StopScan()

			select {
			case <-time.After(cycle.scanOff):
			case <-c.stopCh:
				return
			}
		}
	}()
	return nil
}

// Stop halts scanning/advertising. Idempotent.
func (c *ScanAdvertiseController) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	c.peripheral.StopAdvertising()
}
