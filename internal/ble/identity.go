package ble

import (
	"fmt"

	"github.com/google/uuid"
)

// Identity is the stable identifier of a physical peripheral. On CoreBluetooth
// it is the system-assigned peripheral UUID; on platforms that address
// peripherals by MAC it is derived from the address with IdentityFromAddress.
type Identity uuid.UUID

// addressNamespace scopes identities derived from device addresses.
var addressNamespace = uuid.MustParse("6f3c1e2a-8d4b-5a77-9c1e-4b2d0f7a9e31")

// NilIdentity is the zero Identity.
var NilIdentity Identity

// ParseIdentity parses the canonical UUID string form.
func ParseIdentity(s string) (Identity, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilIdentity, fmt.Errorf("ble: parse identity %q: %w", s, err)
	}
	return Identity(u), nil
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IdentityFromAddress derives a stable identity from a platform address
// string. If addr is already a UUID it is used as-is.
func IdentityFromAddress(addr string) Identity {
	if u, err := uuid.Parse(addr); err == nil {
		return Identity(u)
	}
	return Identity(uuid.NewSHA1(addressNamespace, []byte(addr)))
}

func (id Identity) String() string { return uuid.UUID(id).String() }

// IsNil reports whether id is the zero identity.
func (id Identity) IsNil() bool { return id == NilIdentity }

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
