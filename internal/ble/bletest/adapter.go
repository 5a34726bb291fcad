// Package bletest provides a scriptable in-memory ble.Adapter. Primitives
// only record the call; tests deliver completions explicitly with the
// Simulate helpers, which keeps event ordering under the test's control.
package bletest

import (
	"sync"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// Call is one recorded adapter primitive.
type Call struct {
	Op              string
	ID              ble.Identity
	Filter          []gatt.UUID
	AllowDuplicates bool
	Service         gatt.ServiceRef
	Characteristic  gatt.CharacteristicRef
	Target          gatt.AttributeRef
	Data            []byte
	Mode            ble.WriteMode
	Enabled         bool
}

// Operation names recorded in Call.Op.
const (
	OpStartScan                = "StartScan"
	OpStopScan                 = "StopScan"
	OpConnect                  = "Connect"
	OpDisconnect               = "Disconnect"
	OpDiscoverServices         = "DiscoverServices"
	OpDiscoverIncludedServices = "DiscoverIncludedServices"
	OpDiscoverCharacteristics  = "DiscoverCharacteristics"
	OpDiscoverDescriptors      = "DiscoverDescriptors"
	OpReadRSSI                 = "ReadRSSI"
	OpReadValue                = "ReadValue"
	OpWriteValue               = "WriteValue"
	OpSetNotify                = "SetNotify"
)

// Adapter simulates the BLE adapter.
type Adapter struct {
	mu       sync.Mutex
	power    ble.PowerState
	auth     ble.Authorization
	scanning bool
	sink     ble.Sink

	subs    map[ble.Identity]map[int]ble.Sink
	nextSub int

	states    map[ble.Identity]ble.ConnectionState
	services  map[ble.Identity][]gatt.Service
	retrieval map[ble.Identity][]gatt.UUID // peripherals the system already knows
	failures  map[string]error

	calls []Call
}

// NewAdapter returns an adapter in the given power state.
func NewAdapter(power ble.PowerState) *Adapter {
	return &Adapter{
		power:     power,
		auth:      ble.AuthorizationAllowed,
		subs:      make(map[ble.Identity]map[int]ble.Sink),
		states:    make(map[ble.Identity]ble.ConnectionState),
		services:  make(map[ble.Identity][]gatt.Service),
		retrieval: make(map[ble.Identity][]gatt.UUID),
		failures:  make(map[string]error),
	}
}

// Compile-time check that Adapter implements ble.Adapter.
var _ ble.Adapter = (*Adapter)(nil)

func (a *Adapter) record(c Call) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, c)
	return a.failures[c.Op]
}

// FailNext makes every subsequent call to op return err synchronously.
// Pass a nil err to clear it.
func (a *Adapter) FailNext(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.failures, op)
		return
	}
	a.failures[op] = err
}

func (a *Adapter) Start(sink ble.Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
	return nil
}

func (a *Adapter) PowerState() ble.PowerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

func (a *Adapter) Authorization() ble.Authorization {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.auth
}

func (a *Adapter) StartScan(serviceUUIDs []gatt.UUID, allowDuplicates bool) error {
	if err := a.record(Call{Op: OpStartScan, Filter: serviceUUIDs, AllowDuplicates: allowDuplicates}); err != nil {
		return err
	}
	a.mu.Lock()
	a.scanning = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) StopScan() error {
	if err := a.record(Call{Op: OpStopScan}); err != nil {
		return err
	}
	a.mu.Lock()
	a.scanning = false
	a.mu.Unlock()
	return nil
}

func (a *Adapter) IsScanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *Adapter) Connect(id ble.Identity, _ *ble.ConnectOptions) error {
	if err := a.record(Call{Op: OpConnect, ID: id}); err != nil {
		return err
	}
	a.mu.Lock()
	if a.states[id] == ble.Disconnected {
		a.states[id] = ble.Connecting
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Disconnect(id ble.Identity) error {
	return a.record(Call{Op: OpDisconnect, ID: id})
}

func (a *Adapter) ConnectionState(id ble.Identity) ble.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[id]
}

func (a *Adapter) RetrieveConnected(serviceUUIDs []gatt.UUID) []ble.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []ble.Identity
	for id, svcs := range a.retrieval {
		if a.states[id] != ble.Connected {
			continue
		}
		if matchesAny(svcs, serviceUUIDs) {
			out = append(out, id)
		}
	}
	sortIdentities(out)
	return out
}

func (a *Adapter) RetrieveByIdentities(ids []ble.Identity) []ble.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []ble.Identity
	for _, id := range ids {
		if _, ok := a.retrieval[id]; ok {
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
	return gatt.CloneServices(a.services[id])
}

func (a *Adapter) DiscoverServices(id ble.Identity, filter []gatt.UUID) error {
	return a.record(Call{Op: OpDiscoverServices, ID: id, Filter: filter})
}

func (a *Adapter) DiscoverIncludedServices(id ble.Identity, service gatt.ServiceRef, filter []gatt.UUID) error {
	return a.record(Call{Op: OpDiscoverIncludedServices, ID: id, Service: service, Filter: filter})
}

func (a *Adapter) DiscoverCharacteristics(id ble.Identity, service gatt.ServiceRef, filter []gatt.UUID) error {
	return a.record(Call{Op: OpDiscoverCharacteristics, ID: id, Service: service, Filter: filter})
}

func (a *Adapter) DiscoverDescriptors(id ble.Identity, characteristic gatt.CharacteristicRef) error {
	return a.record(Call{Op: OpDiscoverDescriptors, ID: id, Characteristic: characteristic, Service: characteristic.Parent()})
}

func (a *Adapter) ReadRSSI(id ble.Identity) error {
	return a.record(Call{Op: OpReadRSSI, ID: id})
}

func (a *Adapter) ReadValue(id ble.Identity, target gatt.AttributeRef) error {
	return a.record(Call{Op: OpReadValue, ID: id, Target: target})
}

func (a *Adapter) WriteValue(id ble.Identity, target gatt.AttributeRef, data []byte, mode ble.WriteMode) error {
	return a.record(Call{Op: OpWriteValue, ID: id, Target: target, Data: append([]byte(nil), data...), Mode: mode})
}

func (a *Adapter) SetNotify(id ble.Identity, characteristic gatt.CharacteristicRef, enabled bool) error {
	return a.record(Call{Op: OpSetNotify, ID: id, Characteristic: characteristic, Enabled: enabled})
}
