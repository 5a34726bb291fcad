// Package bluez reports adapter power changes from BlueZ over the system
// D-Bus. tinygo's Linux backend has no power events of its own.
package bluez

import (
	"errors"

	"github.com/chaz8081/blecentral/internal/ble"
)

// ErrUnsupported is returned by NewWatcher on platforms without BlueZ.
var ErrUnsupported = errors.New("bluez: only available on linux")

const (
	service         = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	propertiesIface = "org.freedesktop.DBus.Properties"
	poweredProperty = "Powered"
)

// PowerSink receives power states. internal/ble/tinygo.Adapter implements it.
type PowerSink interface {
	SetPower(ble.PowerState)
}

// ObjectPath returns the D-Bus object path of a BlueZ adapter name such as
// "hci0".
func ObjectPath(adapter string) string {
	return "/org/bluez/" + adapter
}

// powerState maps Adapter1.Powered to a power state.
func powerState(powered bool) ble.PowerState {
	if powered {
		return ble.PowerOn
	}
	return ble.PowerOff
}

// poweredChange extracts Powered from a PropertiesChanged body. ok is false
// when the signal is for another interface or does not carry Powered.
func poweredChange(iface string, changed map[string]any) (powered, ok bool) {
	if iface != adapterIface {
		return false, false
	}
	v, present := changed[poweredProperty]
	if !present {
		return false, false
	}
	powered, ok = v.(bool)
	return powered, ok
}
