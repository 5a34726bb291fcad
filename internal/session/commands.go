package session

import (
	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// Commands are queued and run on the loop in order with adapter events.
// They return immediately; failures arrive on Notices.

// RequestScan starts discovery, or latches it until the adapter powers on.
// The request stays latched until StopScan.
func (s *Session) RequestScan() { s.d.Post(s.requestScan) }

// StopScan stops scanning, clears a pending request and drops every
// discovered peripheral.
func (s *Session) StopScan() { s.d.Post(s.stopScan) }

func (s *Session) Connect(id ble.Identity) {
	s.d.Post(func() { s.connect(id) })
}

// Disconnect drops the link. A user disconnect is never reconnected.
func (s *Session) Disconnect(id ble.Identity) {
	s.d.Post(func() { s.disconnect(id) })
}

func (s *Session) RemoveDiscovered(id ble.Identity) {
	s.d.Post(func() { s.removeDiscovered(id) })
}

func (s *Session) RemoveAllDiscovered() { s.d.Post(s.removeAllDiscovered) }

// RemoveConnected forgets a connected peripheral and disconnects it.
func (s *Session) RemoveConnected(id ble.Identity) {
	s.d.Post(func() { s.removeConnected(id) })
}

// DiscoverServices replaces the peripheral's services with the adapter's
// snapshot once discovery completes. An empty filter discovers everything.
func (s *Session) DiscoverServices(id ble.Identity, filter ...gatt.UUID) {
	s.d.Post(func() { s.discoverServices(id, filter) })
}

func (s *Session) DiscoverIncludedServices(id ble.Identity, service gatt.ServiceRef, filter ...gatt.UUID) {
	s.d.Post(func() { s.discoverIncludedServices(id, service, filter) })
}

func (s *Session) DiscoverCharacteristics(id ble.Identity, service gatt.ServiceRef, filter ...gatt.UUID) {
	s.d.Post(func() { s.discoverCharacteristics(id, service, filter, false) })
}

// DiscoverCharacteristicsAndDescriptors discovers the service's
// characteristics and then the descriptors of each one. A
// NoticeChainCompleted follows once every descriptor discovery finished.
func (s *Session) DiscoverCharacteristicsAndDescriptors(id ble.Identity, service gatt.ServiceRef, filter ...gatt.UUID) {
	s.d.Post(func() { s.discoverCharacteristics(id, service, filter, true) })
}

func (s *Session) DiscoverDescriptors(id ble.Identity, characteristic gatt.CharacteristicRef) {
	s.d.Post(func() { s.discoverDescriptors(id, characteristic) })
}

func (s *Session) ReadRSSI(id ble.Identity) {
	s.d.Post(func() { s.readRSSI(id) })
}

func (s *Session) ReadValue(id ble.Identity, target gatt.AttributeRef) {
	s.d.Post(func() { s.readValue(id, target) })
}

func (s *Session) WriteValue(id ble.Identity, target gatt.AttributeRef, data []byte, mode ble.WriteMode) {
	data = append([]byte(nil), data...)
	s.d.Post(func() { s.writeValue(id, target, data, mode) })
}

func (s *Session) SetNotify(id ble.Identity, characteristic gatt.CharacteristicRef, enabled bool) {
	s.d.Post(func() { s.setNotify(id, characteristic, enabled) })
}
