package ble

import "github.com/chaz8081/blecentral/internal/ble/gatt"

// Advertisement is the snapshot carried by one advertising report.
// Optional fields are nil when the report did not include them.
type Advertisement struct {
	LocalName        string               `json:"local_name,omitempty"`
	ServiceUUIDs     []gatt.UUID          `json:"service_uuids,omitempty"`
	ManufacturerData []byte               `json:"manufacturer_data,omitempty"`
	ServiceData      map[gatt.UUID][]byte `json:"service_data,omitempty"`
	TxPowerLevel     *int                 `json:"tx_power_level,omitempty"`
	IsConnectable    *bool                `json:"is_connectable,omitempty"`
}

// Clone returns a deep copy of the advertisement.
func (a Advertisement) Clone() Advertisement {
	if a.ServiceUUIDs != nil {
		a.ServiceUUIDs = append([]gatt.UUID(nil), a.ServiceUUIDs...)
	}
	if a.ManufacturerData != nil {
		a.ManufacturerData = append([]byte(nil), a.ManufacturerData...)
	}
	if a.ServiceData != nil {
		sd := make(map[gatt.UUID][]byte, len(a.ServiceData))
		for k, v := range a.ServiceData {
			sd[k] = append([]byte(nil), v...)
		}
		a.ServiceData = sd
	}
	if a.TxPowerLevel != nil {
		v := *a.TxPowerLevel
		a.TxPowerLevel = &v
	}
	if a.IsConnectable != nil {
		v := *a.IsConnectable
		a.IsConnectable = &v
	}
	return a
}

// HasService reports whether the advertisement lists u.
func (a Advertisement) HasService(u gatt.UUID) bool {
	for _, s := range a.ServiceUUIDs {
		if s == u {
			return true
		}
	}
	return false
}
