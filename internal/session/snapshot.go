package session

import (
	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// Phase is the progress of one discovery level.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseDiscovering
	PhaseKnown
)

func (p Phase) String() string {
	switch p {
	case PhaseDiscovering:
		return "discovering"
	case PhaseKnown:
		return "known"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// DiscoveryStatus reports where each level of GATT discovery stands for a
// peripheral. Levels that were never requested are absent from the maps.
type DiscoveryStatus struct {
	Services         Phase                            `json:"services"`
	IncludedServices map[gatt.ServiceRef]Phase        `json:"included_services,omitempty"`
	Characteristics  map[gatt.ServiceRef]Phase        `json:"characteristics,omitempty"`
	Descriptors      map[gatt.CharacteristicRef]Phase `json:"descriptors,omitempty"`
	// Chains lists services with an automatic descriptor chain in flight.
	Chains []gatt.ServiceRef `json:"chains,omitempty"`
}

// Peripheral is an immutable copy of one registry record.
type Peripheral struct {
	ID            ble.Identity        `json:"id"`
	State         ble.ConnectionState `json:"state"`
	// Name is the last advertised or reported name. It survives promotion
	// to connected, unlike Advertisement.
	Name          string              `json:"name,omitempty"`
	Advertisement *ble.Advertisement  `json:"advertisement,omitempty"`
	RSSI          *int                `json:"rssi,omitempty"`
	GATT          gatt.Tree           `json:"gatt"`
	Discovery     DiscoveryStatus     `json:"discovery"`
}

// Snapshot is the externally observable model after one processed event.
// In unified mode every record is listed in Discovered and Connected is
// empty; State tells them apart.
type Snapshot struct {
	Power         ble.PowerState    `json:"power"`
	Authorization ble.Authorization `json:"authorization"`
	Scanning      bool              `json:"scanning"`
	PendingScan   bool              `json:"pending_scan"`
	Discovered    []Peripheral      `json:"discovered"`
	Connected     []Peripheral      `json:"connected"`
}

// Peripheral looks id up in either list.
func (s *Snapshot) Peripheral(id ble.Identity) (Peripheral, bool) {
	for _, list := range [][]Peripheral{s.Connected, s.Discovered} {
		for _, p := range list {
			if p.ID == id {
				return p, true
			}
		}
	}
	return Peripheral{}, false
}

func (r *record) snapshot() Peripheral {
	p := Peripheral{
		ID:        r.id,
		State:     r.state,
		Name:      r.name,
		GATT:      r.tree.Clone(),
		Discovery: r.disc.status(),
	}
	if r.adv != nil {
		adv := r.adv.Clone()
		p.Advertisement = &adv
	}
	if r.rssi != nil {
		v := *r.rssi
		p.RSSI = &v
	}
	return p
}
