// Package ble is the narrow facade over the platform Bluetooth Low Energy
// stack. It defines peripheral identities, adapter and connection states,
// the closed set of adapter events, and the Adapter interface the session
// core drives. Implementations live in subpackages.
//
// Every Adapter primitive returns as soon as the request is issued; its
// outcome arrives later as an Event on a Sink. Implementations may call a
// Sink from any goroutine.
package ble

import "github.com/chaz8081/blecentral/internal/ble/gatt"

// Sink receives adapter events. It must not block.
type Sink func(Event)

// WriteMode selects acknowledged or unacknowledged writes.
type WriteMode int

const (
	WithResponse WriteMode = iota
	WithoutResponse
)

func (m WriteMode) String() string {
	if m == WithoutResponse {
		return "withoutResponse"
	}
	return "withResponse"
}

// ConnectOptions are platform hints for a connect request.
type ConnectOptions struct {
	NotifyOnConnection    bool
	NotifyOnDisconnection bool
	NotifyOnNotification  bool
}

// Adapter abstracts the BLE hardware adapter for the session core and for
// testing.
type Adapter interface {
	// Start begins delivering adapter-level events (power, authorization,
	// scanning, discovery and connection events) to sink.
	Start(sink Sink) error

	// PowerState returns the current adapter power state.
	PowerState() PowerState
	// Authorization returns the application's Bluetooth authorization.
	Authorization() Authorization

	// StartScan scans for peripherals advertising any of serviceUUIDs, or all
	// peripherals when serviceUUIDs is empty. allowDuplicates requests a
	// Discovered event for every advertising report.
	StartScan(serviceUUIDs []gatt.UUID, allowDuplicates bool) error
	StopScan() error
	IsScanning() bool

	Connect(id Identity, opts *ConnectOptions) error
	Disconnect(id Identity) error
	// ConnectionState returns the adapter's view of the peripheral's link.
	ConnectionState(id Identity) ConnectionState

	// RetrieveConnected lists peripherals already connected to the system
	// that expose any of serviceUUIDs.
	RetrieveConnected(serviceUUIDs []gatt.UUID) []Identity
	// RetrieveByIdentities lists the subset of ids known to the system.
	RetrieveByIdentities(ids []Identity) []Identity

	// Subscribe opens the per-peripheral event stream. The returned cancel
	// function stops delivery; it is safe to call more than once.
	Subscribe(id Identity, sink Sink) (cancel func())

	// Services returns the adapter's accumulated GATT snapshot for the
	// peripheral. The result is owned by the caller.
	Services(id Identity) []gatt.Service

	DiscoverServices(id Identity, filter []gatt.UUID) error
	DiscoverIncludedServices(id Identity, service gatt.ServiceRef, filter []gatt.UUID) error
	DiscoverCharacteristics(id Identity, service gatt.ServiceRef, filter []gatt.UUID) error
	DiscoverDescriptors(id Identity, characteristic gatt.CharacteristicRef) error

	ReadRSSI(id Identity) error
	ReadValue(id Identity, target gatt.AttributeRef) error
	WriteValue(id Identity, target gatt.AttributeRef, data []byte, mode WriteMode) error
	SetNotify(id Identity, characteristic gatt.CharacteristicRef, enabled bool) error
}
