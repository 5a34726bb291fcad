package bletest

import (
	"bytes"
	"sort"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// Calls returns every recorded call, oldest first.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallsTo returns the recorded calls for op.
func (a *Adapter) CallsTo(op string) []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Call
	for _, c := range a.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets all recorded calls.
func (a *Adapter) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

// Subscriptions returns the number of live per-peripheral streams for id.
func (a *Adapter) Subscriptions(id ble.Identity) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs[id])
}

// SetServices replaces the adapter's GATT snapshot for id.
func (a *Adapter) SetServices(id ble.Identity, services []gatt.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services[id] = gatt.CloneServices(services)
}

// AddKnown makes id retrievable by identity, and by service when it is
// connected and exposes one of services.
func (a *Adapter) AddKnown(id ble.Identity, state ble.ConnectionState, services ...gatt.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retrieval[id] = services
	a.states[id] = state
}

func (a *Adapter) emit(ev ble.Event) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Emit delivers ev to every live subscription for ev's peripheral.
func (a *Adapter) Emit(ev ble.PeripheralEvent) {
	a.mu.Lock()
	var sinks []ble.Sink
	keys := make([]int, 0, len(a.subs[ev.Peripheral()]))
	for k := range a.subs[ev.Peripheral()] {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		sinks = append(sinks, a.subs[ev.Peripheral()][k])
	}
	a.mu.Unlock()
	for _, s := range sinks {
		s(ev)
	}
}

// SimulatePower changes the power state and reports it.
func (a *Adapter) SimulatePower(state ble.PowerState) {
	a.mu.Lock()
	a.power = state
	if state != ble.PowerOn {
		a.scanning = false
	}
	a.mu.Unlock()
	a.emit(ble.PowerChanged{State: state})
}

// SimulateAuthorization changes the authorization and reports it.
func (a *Adapter) SimulateAuthorization(auth ble.Authorization) {
	a.mu.Lock()
	a.auth = auth
	a.mu.Unlock()
	a.emit(ble.AuthorizationChanged{Authorization: auth})
}

// SimulateDiscovered reports an advertising report.
func (a *Adapter) SimulateDiscovered(id ble.Identity, adv ble.Advertisement, rssi int) {
	a.emit(ble.Discovered{ID: id, Advertisement: adv, RSSI: rssi})
}

// SimulateConnect completes a connection to id.
func (a *Adapter) SimulateConnect(id ble.Identity) {
	a.mu.Lock()
	a.states[id] = ble.Connected
	a.mu.Unlock()
	a.emit(ble.ConnectedEvent{ID: id})
}

// SimulateDisconnect drops the connection to id.
func (a *Adapter) SimulateDisconnect(id ble.Identity, err error) {
	a.mu.Lock()
	a.states[id] = ble.Disconnected
	a.mu.Unlock()
	a.emit(ble.DisconnectedEvent{ID: id, Err: err})
}

// SimulateFailedToConnect fails a pending connection to id.
func (a *Adapter) SimulateFailedToConnect(id ble.Identity, err error) {
	a.mu.Lock()
	a.states[id] = ble.Disconnected
	a.mu.Unlock()
	a.emit(ble.FailedToConnect{ID: id, Err: err})
}

func matchesAny(have, want []gatt.UUID) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func sortIdentities(ids []ble.Identity) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
