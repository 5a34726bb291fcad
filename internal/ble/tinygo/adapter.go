// Package tinygo implements ble.Adapter over tinygo.org/x/bluetooth
// (CoreBluetooth on macOS, BlueZ on Linux, WinRT on Windows).
//
// tinygo's calls block, so each primitive runs in its own goroutine and
// reports through the sinks. The library has no descriptor discovery, RSSI
// reads or power events: descriptors always complete empty, ReadRSSI echoes
// the last advertised RSSI, and power is reported on Start. Pair with
// internal/ble/bluez on Linux for live power events.
//
// Write flow control is not modelled either: there is no
// can-send-write-without-response query, no ready-to-send callback and no
// maximum write length, so callers size and pace unacknowledged writes
// themselves. Acknowledged writes exist only on macOS and Windows; elsewhere
// WriteValue with ble.WithResponse returns ErrUnsupported.
package tinygo

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

var (
	// ErrUnsupported is returned for operations tinygo cannot perform.
	ErrUnsupported = errors.New("tinygo: not supported")
	// ErrUnknownPeripheral means the peripheral was never seen by this adapter.
	ErrUnknownPeripheral = errors.New("tinygo: unknown peripheral")
	// ErrNotConnected means the operation needs a live connection.
	ErrNotConnected = errors.New("tinygo: not connected")
)

// readBufferSize bounds a characteristic read (ATT maximum attribute size).
const readBufferSize = 512

// peripheral is everything the adapter holds for one device.
type peripheral struct {
	addr     bluetooth.Address
	hasAddr  bool
	state    ble.ConnectionState
	rssi     *int
	name     string
	device   bluetooth.Device
	services []gatt.Service
	svcs     map[gatt.UUID]bluetooth.DeviceService
	chars    map[gatt.CharacteristicRef]bluetooth.DeviceCharacteristic
}

// Adapter drives one tinygo bluetooth adapter.
type Adapter struct {
	bt  *bluetooth.Adapter
	log *slog.Logger

	mu       sync.Mutex
	sink     ble.Sink
	power    ble.PowerState
	scanning bool
	periphs  map[ble.Identity]*peripheral
	subs     map[ble.Identity]map[int]ble.Sink
	nextSub  int
}

// New wraps bluetooth.DefaultAdapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		bt:      bluetooth.DefaultAdapter,
		log:     log,
		periphs: make(map[ble.Identity]*peripheral),
		subs:    make(map[ble.Identity]map[int]ble.Sink),
	}
}

// Compile-time check that Adapter implements ble.Adapter.
var _ ble.Adapter = (*Adapter)(nil)

// Start enables the adapter. An adapter that cannot be enabled is reported
// as unsupported rather than failing.
func (a *Adapter) Start(sink ble.Sink) error {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()

	if err := a.bt.Enable(); err != nil {
		a.log.Error("[BLE] enable adapter", "error", err)
		a.SetPower(ble.PowerUnsupported)
		return nil
	}

	a.bt.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := ble.IdentityFromAddress(device.Address.String())
		a.markDisconnected(id, nil)
	})

	a.SetPower(ble.PowerOn)
	return nil
}

// SetPower records and reports a power state. The BlueZ watcher calls it
// on Linux.
func (a *Adapter) SetPower(state ble.PowerState) {
	a.mu.Lock()
	changed := a.power != state
	a.power = state
	a.mu.Unlock()
	if changed {
		a.log.Info("[BLE] power state", "state", state)
		a.emit(ble.PowerChanged{State: state})
	}
}

func (a *Adapter) PowerState() ble.PowerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

// Authorization is always allowed; the OS prompts on Enable where needed.
func (a *Adapter) Authorization() ble.Authorization {
	return ble.AuthorizationAllowed
}

func (a *Adapter) emit(ev ble.Event) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (a *Adapter) emitTo(id ble.Identity, ev ble.Event) {
	a.mu.Lock()
	keys := make([]int, 0, len(a.subs[id]))
	for k := range a.subs[id] {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	sinks := make([]ble.Sink, 0, len(keys))
	for _, k := range keys {
		sinks = append(sinks, a.subs[id][k])
	}
	a.mu.Unlock()
	for _, s := range sinks {
		s(ev)
	}
}

func (a *Adapter) StartScan(serviceUUIDs []gatt.UUID, allowDuplicates bool) error {
	filter, err := toBT(serviceUUIDs)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = true
	a.mu.Unlock()

	seen := make(map[ble.Identity]bool)
	go func() {
		a.emit(ble.ScanningChanged{Scanning: true})
		err := a.bt.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matches(result, filter) {
				return
			}
			id := ble.IdentityFromAddress(result.Address.String())
			if !allowDuplicates {
				if seen[id] {
					return
				}
				seen[id] = true
			}
			rssi := int(result.RSSI)
			adv := advertisement(result)
			a.mu.Lock()
			p := a.peripheralLocked(id)
			p.addr = result.Address
			p.hasAddr = true
			p.rssi = &rssi
			// Advertisements from a connected peripheral are dropped by the
			// session, so a name change travels as its own event.
			renamed := adv.LocalName != "" && adv.LocalName != p.name && p.state == ble.Connected
			if adv.LocalName != "" {
				p.name = adv.LocalName
			}
			a.mu.Unlock()
			if renamed {
				a.emitTo(id, ble.NameUpdated{ID: id, Name: adv.LocalName})
			}
			a.emit(ble.Discovered{ID: id, Advertisement: adv, RSSI: rssi})
		})
		if err != nil {
			a.log.Warn("[BLE] scan ended", "error", err)
		}
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		a.emit(ble.ScanningChanged{Scanning: false})
	}()
	return nil
}

func (a *Adapter) StopScan() error {
	if err := a.bt.StopScan(); err != nil {
		return fmt.Errorf("tinygo: stop scan: %w", err)
	}
	return nil
}

func (a *Adapter) IsScanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *Adapter) peripheralLocked(id ble.Identity) *peripheral {
	p, ok := a.periphs[id]
	if !ok {
		p = &peripheral{
			svcs:  make(map[gatt.UUID]bluetooth.DeviceService),
			chars: make(map[gatt.CharacteristicRef]bluetooth.DeviceCharacteristic),
		}
		a.periphs[id] = p
	}
	return p
}

// address resolves the platform address for id. On macOS the identity is
// the CoreBluetooth UUID, so never-seen peripherals can still be addressed.
func (a *Adapter) address(id ble.Identity) (bluetooth.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.periphs[id]; ok && p.hasAddr {
		return p.addr, true
	}
	if runtime.GOOS == "darwin" {
		var addr bluetooth.Address
		addr.Set(id.String())
		p := a.peripheralLocked(id)
		p.addr = addr
		p.hasAddr = true
		return addr, true
	}
	return bluetooth.Address{}, false
}

func (a *Adapter) Connect(id ble.Identity, _ *ble.ConnectOptions) error {
	addr, ok := a.address(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	a.mu.Lock()
	p := a.peripheralLocked(id)
	if p.state == ble.Connected || p.state == ble.Connecting {
		a.mu.Unlock()
		return nil
	}
	p.state = ble.Connecting
	a.mu.Unlock()

	go func() {
		device, err := a.bt.Connect(addr, bluetooth.ConnectionParams{})
		a.mu.Lock()
		if err != nil {
			p.state = ble.Disconnected
			a.mu.Unlock()
			a.log.Warn("[BLE] connect failed", "peripheral", id, "error", err)
			a.emit(ble.FailedToConnect{ID: id, Err: fmt.Errorf("tinygo: connect to %s: %w", addr.String(), err)})
			return
		}
		p.device = device
		p.state = ble.Connected
		a.mu.Unlock()
		a.log.Info("[BLE] connected", "peripheral", id, "address", addr.String())
		a.emit(ble.ConnectedEvent{ID: id})
	}()
	return nil
}

func (a *Adapter) Disconnect(id ble.Identity) error {
	a.mu.Lock()
	p, ok := a.periphs[id]
	if !ok || p.state != ble.Connected {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	p.state = ble.Disconnecting
	device := p.device
	a.mu.Unlock()

	go func() {
		if err := device.Disconnect(); err != nil {
			a.log.Warn("[BLE] disconnect", "peripheral", id, "error", err)
		}
		// Not every platform fires the connect handler for a local
		// disconnect.
		a.markDisconnected(id, nil)
	}()
	return nil
}

// markDisconnected reports a disconnect once per link.
func (a *Adapter) markDisconnected(id ble.Identity, err error) {
	a.mu.Lock()
	p, ok := a.periphs[id]
	if !ok || p.state == ble.Disconnected {
		a.mu.Unlock()
		return
	}
	p.state = ble.Disconnected
	p.device = bluetooth.Device{}
	p.svcs = make(map[gatt.UUID]bluetooth.DeviceService)
	p.chars = make(map[gatt.CharacteristicRef]bluetooth.DeviceCharacteristic)
	p.services = nil
	a.mu.Unlock()
	a.log.Info("[BLE] disconnected", "peripheral", id)
	a.emit(ble.DisconnectedEvent{ID: id, Err: err})
}

func (a *Adapter) ConnectionState(id ble.Identity) ble.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.periphs[id]; ok {
		return p.state
	}
	return ble.Disconnected
}

// RetrieveConnected lists the links this adapter holds; tinygo cannot see
// connections owned by other processes.
func (a *Adapter) RetrieveConnected(serviceUUIDs []gatt.UUID) []ble.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []ble.Identity
	for id, p := range a.periphs {
		if p.state != ble.Connected {
			continue
		}
		if len(serviceUUIDs) == 0 || hasAny(p.services, serviceUUIDs) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (a *Adapter) RetrieveByIdentities(ids []ble.Identity) []ble.Identity {
	var out []ble.Identity
	for _, id := range ids {
		if _, ok := a.address(id); ok {
			out = append(out, id)
		}
	}
	return out
}

func (a *Adapter) Subscribe(id ble.Identity, sink ble.Sink) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSub++
	n := a.nextSub
	if a.subs[id] == nil {
		a.subs[id] = make(map[int]ble.Sink)
	}
	a.subs[id][n] = sink
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs[id], n)
	}
}

func (a *Adapter) Services(id ble.Identity) []gatt.Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.periphs[id]; ok {
		return gatt.CloneServices(p.services)
	}
	return nil
}

// connected returns the peripheral and its device if it has a live link.
func (a *Adapter) connected(id ble.Identity) (*peripheral, bluetooth.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.periphs[id]
	if !ok || p.state != ble.Connected {
		return nil, bluetooth.Device{}, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return p, p.device, nil
}

func hasAny(services []gatt.Service, want []gatt.UUID) bool {
	for _, s := range services {
		for _, w := range want {
			if s.UUID == w {
				return true
			}
		}
	}
	return false
}

func matches(result bluetooth.ScanResult, filter []bluetooth.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, u := range filter {
		if result.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

func advertisement(result bluetooth.ScanResult) ble.Advertisement {
	adv := ble.Advertisement{LocalName: result.LocalName()}
	for _, m := range result.ManufacturerData() {
		// Company identifier first, little-endian, as on the air.
		adv.ManufacturerData = append(adv.ManufacturerData, byte(m.CompanyID), byte(m.CompanyID>>8))
		adv.ManufacturerData = append(adv.ManufacturerData, m.Data...)
	}
	return adv
}

func toBT(uuids []gatt.UUID) ([]bluetooth.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		bu, err := bluetooth.ParseUUID(u.String())
		if err != nil {
			return nil, fmt.Errorf("tinygo: uuid %s: %w", u, err)
		}
		out = append(out, bu)
	}
	return out, nil
}

func fromBT(u bluetooth.UUID) gatt.UUID {
	parsed, err := gatt.ParseUUID(u.String())
	if err != nil {
		return gatt.UUID{}
	}
	return parsed
}
