package ble

// PowerState is the adapter's power and availability state.
type PowerState int

const (
	PowerUnknown      PowerState = 0
	PowerResetting    PowerState = 1
	PowerUnsupported  PowerState = 2
	PowerUnauthorized PowerState = 3
	PowerOff          PowerState = 4
	PowerOn           PowerState = 5
)

func (s PowerState) String() string {
	str := []string{
		"unknown",
		"resetting",
		"unsupported",
		"unauthorized",
		"poweredOff",
		"poweredOn",
	}
	if s < 0 || int(s) >= len(str) {
		return "invalid"
	}
	return str[int(s)]
}

// Unavailable reports whether the adapter can never be used in this state
// without user intervention.
func (s PowerState) Unavailable() bool {
	return s == PowerUnsupported || s == PowerUnauthorized
}

// MarshalText implements encoding.TextMarshaler.
func (s PowerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Authorization is the application's permission to use Bluetooth.
type Authorization int

const (
	AuthorizationNotDetermined Authorization = iota
	AuthorizationRestricted
	AuthorizationDenied
	AuthorizationAllowed
)

func (a Authorization) String() string {
	switch a {
	case AuthorizationRestricted:
		return "restricted"
	case AuthorizationDenied:
		return "denied"
	case AuthorizationAllowed:
		return "allowed"
	default:
		return "notDetermined"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Authorization) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// ConnectionState is a peripheral's link state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
