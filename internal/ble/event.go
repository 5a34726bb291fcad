package ble

import "github.com/chaz8081/blecentral/internal/ble/gatt"

// Event is one asynchronous notification from the adapter. The concrete
// types below form a closed set; consumers switch over them exhaustively.
type Event interface {
	event()
}

// PeripheralEvent is an Event about a single peripheral.
type PeripheralEvent interface {
	Event
	Peripheral() Identity
}

// Adapter-level events.
type (
	// PowerChanged reports a new adapter power state.
	PowerChanged struct {
		State PowerState
	}

	// AuthorizationChanged reports a new application authorization.
	AuthorizationChanged struct {
		Authorization Authorization
	}

	// ScanningChanged reports that scanning started or stopped.
	ScanningChanged struct {
		Scanning bool
	}
)

// Connection events. These are delivered on the adapter-level stream.
type (
	Discovered struct {
		ID            Identity
		Advertisement Advertisement
		RSSI          int
	}

	ConnectedEvent struct {
		ID Identity
	}

	DisconnectedEvent struct {
		ID  Identity
		Err error
	}

	FailedToConnect struct {
		ID  Identity
		Err error
	}
)

// Per-peripheral events. These are delivered only to a live subscription
// for the peripheral.
type (
	ServicesDiscovered struct {
		ID  Identity
		Err error
	}

	IncludedServicesDiscovered struct {
		ID      Identity
		Service gatt.ServiceRef
		Err     error
	}

	CharacteristicsDiscovered struct {
		ID      Identity
		Service gatt.ServiceRef
		Err     error
	}

	DescriptorsDiscovered struct {
		ID             Identity
		Characteristic gatt.CharacteristicRef
		Err            error
	}

	// ValueUpdated carries a read completion or a notification.
	ValueUpdated struct {
		ID     Identity
		Target gatt.AttributeRef
		Value  []byte
		Err    error
	}

	ValueWritten struct {
		ID     Identity
		Target gatt.AttributeRef
		Err    error
	}

	NotificationStateChanged struct {
		ID             Identity
		Characteristic gatt.CharacteristicRef
		Enabled        bool
		Err            error
	}

	RSSIRead struct {
		ID   Identity
		RSSI int
		Err  error
	}

	// NameUpdated reports a new GAP device name.
	NameUpdated struct {
		ID   Identity
		Name string
	}

	StateChanged struct {
		ID    Identity
		State ConnectionState
	}

	// ServicesModified lists services the peripheral invalidated.
	ServicesModified struct {
		ID          Identity
		Invalidated []gatt.UUID
	}
)

func (PowerChanged) event()               {}
func (AuthorizationChanged) event()       {}
func (ScanningChanged) event()            {}
func (Discovered) event()                 {}
func (ConnectedEvent) event()             {}
func (DisconnectedEvent) event()          {}
func (FailedToConnect) event()            {}
func (ServicesDiscovered) event()         {}
func (IncludedServicesDiscovered) event() {}
func (CharacteristicsDiscovered) event()  {}
func (DescriptorsDiscovered) event()      {}
func (ValueUpdated) event()               {}
func (ValueWritten) event()               {}
func (NotificationStateChanged) event()   {}
func (RSSIRead) event()                   {}
func (NameUpdated) event()                {}
func (StateChanged) event()               {}
func (ServicesModified) event()           {}

func (e Discovered) Peripheral() Identity                 { return e.ID }
func (e ConnectedEvent) Peripheral() Identity             { return e.ID }
func (e DisconnectedEvent) Peripheral() Identity          { return e.ID }
func (e FailedToConnect) Peripheral() Identity            { return e.ID }
func (e ServicesDiscovered) Peripheral() Identity         { return e.ID }
func (e IncludedServicesDiscovered) Peripheral() Identity { return e.ID }
func (e CharacteristicsDiscovered) Peripheral() Identity  { return e.ID }
func (e DescriptorsDiscovered) Peripheral() Identity      { return e.ID }
func (e ValueUpdated) Peripheral() Identity               { return e.ID }
func (e ValueWritten) Peripheral() Identity               { return e.ID }
func (e NotificationStateChanged) Peripheral() Identity   { return e.ID }
func (e RSSIRead) Peripheral() Identity                   { return e.ID }
func (e NameUpdated) Peripheral() Identity                { return e.ID }
func (e StateChanged) Peripheral() Identity               { return e.ID }
func (e ServicesModified) Peripheral() Identity           { return e.ID }
