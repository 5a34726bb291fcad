package session

import (
	"log/slog"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// record is the mutable registry entry for one peripheral. It is only
// touched from inside the loop.
type record struct {
	id    ble.Identity
	state ble.ConnectionState
	name  string
	adv   *ble.Advertisement
	rssi  *int
	tree  gatt.Tree
	token Token
	disc  *discoveryState
}

func newRecord(id ble.Identity) *record {
	return &record{id: id, disc: newDiscoveryState()}
}

type peripheralList = orderedmap.OrderedMap[ble.Identity, *record]

// Registry holds the discovered and connected collections in insertion
// order. An identity lives in at most one of them. In unified mode there is
// a single collection and connection is only a state field.
type Registry struct {
	d       *Dispatcher
	adapter ble.Adapter
	log     *slog.Logger
	unified bool

	discovered *peripheralList
	connected  *peripheralList
}

// NewRegistry creates an empty registry whose records subscribe through d.
func NewRegistry(d *Dispatcher, adapter ble.Adapter, unified bool, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		d:          d,
		adapter:    adapter,
		log:        log,
		unified:    unified,
		discovered: orderedmap.New[ble.Identity, *record](),
		connected:  orderedmap.New[ble.Identity, *record](),
	}
}

// Unified reports whether the registry keeps a single list.
func (r *Registry) Unified() bool { return r.unified }

// Get returns the record for id from either collection.
func (r *Registry) Get(id ble.Identity) *record {
	if rec, ok := r.connected.Get(id); ok {
		return rec
	}
	if rec, ok := r.discovered.Get(id); ok {
		return rec
	}
	return nil
}

func (r *Registry) isConnected(id ble.Identity) bool {
	if r.unified {
		rec, ok := r.discovered.Get(id)
		return ok && rec.state == ble.Connected
	}
	_, ok := r.connected.Get(id)
	return ok
}

func (r *Registry) subscribe(rec *record) (created bool) {
	rec.token, created = r.d.Subscribe(rec.id)
	return created
}

// UpsertDiscovered records an advertisement. A connected peripheral is
// never re-added to discovered; the call is a no-op for it. An existing
// record keeps its subscription.
func (r *Registry) UpsertDiscovered(id ble.Identity, adv ble.Advertisement, rssi int) *record {
	if r.isConnected(id) {
		r.log.Debug("[SESSION] advertisement from connected peripheral ignored", "peripheral", id)
		return nil
	}
	rec, ok := r.discovered.Get(id)
	if !ok {
		rec = newRecord(id)
		r.discovered.Set(id, rec)
		r.log.Info("[SESSION] peripheral discovered", "peripheral", id, "name", adv.LocalName, "rssi", rssi)
	}
	a := adv.Clone()
	rec.adv = &a
	if adv.LocalName != "" {
		rec.name = adv.LocalName
	}
	rec.rssi = &rssi
	if rec.token == 0 {
		r.subscribe(rec)
	}
	return rec
}

// Track adds a retrieved peripheral to discovered without an advertisement.
// Connected or already tracked peripherals are returned unchanged.
func (r *Registry) Track(id ble.Identity) *record {
	if rec := r.Get(id); rec != nil {
		return rec
	}
	rec := newRecord(id)
	rec.state = r.adapter.ConnectionState(id)
	r.discovered.Set(id, rec)
	r.subscribe(rec)
	return rec
}

// PromoteToConnected moves id to connected, creating the record if needed.
// Known GATT state is kept. The RSSI is read once as a side effect.
func (r *Registry) PromoteToConnected(id ble.Identity) *record {
	var rec *record
	if r.unified {
		var ok bool
		if rec, ok = r.discovered.Get(id); !ok {
			rec = newRecord(id)
			r.discovered.Set(id, rec)
		}
	} else if existing, ok := r.connected.Get(id); ok {
		rec = existing
	} else {
		if existing, ok := r.discovered.Delete(id); ok {
			rec = existing
		} else {
			rec = newRecord(id)
		}
		rec.adv = nil
		r.connected.Set(id, rec)
	}
	rec.state = ble.Connected

	created := rec.token == 0 && r.subscribe(rec)
	if !created || r.adapter.ConnectionState(id) != ble.Connected {
		if err := r.adapter.ReadRSSI(id); err != nil {
			r.log.Warn("[SESSION] rssi read on connect failed", "peripheral", id, "error", err)
		}
	}
	r.log.Info("[SESSION] peripheral connected", "peripheral", id)
	return rec
}

// DemoteToDisconnected removes id from connected. In unified mode the
// record stays and only its state changes.
func (r *Registry) DemoteToDisconnected(id ble.Identity) bool {
	if r.unified {
		rec, ok := r.discovered.Get(id)
		if !ok {
			return false
		}
		rec.state = ble.Disconnected
		rec.rssi = nil
		return true
	}
	return r.RemoveConnected(id)
}

// SetState records a connection state reported by the adapter.
func (r *Registry) SetState(id ble.Identity, state ble.ConnectionState) {
	if rec := r.Get(id); rec != nil {
		rec.state = state
	}
}

// RemoveDiscovered evicts id from discovered. The subscription is cancelled
// before the record is dropped. In unified mode connected records are kept.
func (r *Registry) RemoveDiscovered(id ble.Identity) bool {
	rec, ok := r.discovered.Get(id)
	if !ok {
		return false
	}
	if r.unified && rec.state == ble.Connected {
		return false
	}
	r.drop(r.discovered, rec)
	return true
}

// RemoveAllDiscovered evicts every discovered record and returns how many
// went.
func (r *Registry) RemoveAllDiscovered() int {
	var ids []ble.Identity
	for p := r.discovered.Oldest(); p != nil; p = p.Next() {
		ids = append(ids, p.Key)
	}
	n := 0
	for _, id := range ids {
		if r.RemoveDiscovered(id) {
			n++
		}
	}
	return n
}

// RemoveConnected evicts id from connected, cancelling its subscription
// first. In unified mode it removes the record unless it is disconnected.
func (r *Registry) RemoveConnected(id ble.Identity) bool {
	list := r.connected
	if r.unified {
		list = r.discovered
	}
	rec, ok := list.Get(id)
	if !ok {
		return false
	}
	if r.unified && rec.state == ble.Disconnected {
		return false
	}
	r.drop(list, rec)
	return true
}

func (r *Registry) drop(list *peripheralList, rec *record) {
	r.d.Cancel(rec.token)
	rec.token = 0
	list.Delete(rec.id)
	r.log.Debug("[SESSION] peripheral removed", "peripheral", rec.id)
}

// Len returns the sizes of both collections.
func (r *Registry) Len() (discovered, connected int) {
	return r.discovered.Len(), r.connected.Len()
}

func (r *Registry) snapshot() (discovered, connected []Peripheral) {
	discovered = make([]Peripheral, 0, r.discovered.Len())
	for p := r.discovered.Oldest(); p != nil; p = p.Next() {
		discovered = append(discovered, p.Value.snapshot())
	}
	connected = make([]Peripheral, 0, r.connected.Len())
	for p := r.connected.Oldest(); p != nil; p = p.Next() {
		connected = append(connected, p.Value.snapshot())
	}
	return discovered, connected
}
