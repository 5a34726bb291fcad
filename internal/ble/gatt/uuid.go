// Package gatt holds the value types for a peripheral's GATT hierarchy:
// services, characteristics and descriptors. The tree is plain data owned by
// a single peripheral record; children never point back at their parents.
// Parents are addressed with the Ref types instead.
package gatt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// UUID identifies a GATT attribute type.
type UUID = uuid.UUID

// baseUUID is the Bluetooth Base UUID used to expand 16-bit and 32-bit
// assigned numbers.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit assigned number into a full UUID.
func UUID16(v uint16) UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit assigned number into a full UUID.
func UUID32(v uint32) UUID {
	u := baseUUID
	u[0] = byte(v >> 24)
	u[1] = byte(v >> 16)
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

// IsShort reports whether u is derived from the Bluetooth Base UUID and fits
// in 16 bits.
func IsShort(u UUID) bool {
	return u[0] == 0 && u[1] == 0 && string(u[4:]) == string(baseUUID[4:])
}

// ParseUUID accepts the full 36 character form as well as the 4 and 8 hex
// digit assigned-number forms ("2902", "0x2902", "0000180d").
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	switch len(s) {
	case 4, 8:
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return UUID{}, fmt.Errorf("gatt: parse uuid %q: %w", s, err)
		}
		return UUID32(uint32(v)), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("gatt: parse uuid %q: %w", s, err)
	}
	return u, nil
}

// ParseUUIDs parses every entry of ss, failing on the first bad one.
func ParseUUIDs(ss []string) ([]UUID, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]UUID, 0, len(ss))
	for _, s := range ss {
		u, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// FormatUUID renders short UUIDs as four hex digits and everything else in
// the canonical form.
func FormatUUID(u UUID) string {
	if IsShort(u) {
		return fmt.Sprintf("%02x%02x", u[2], u[3])
	}
	return u.String()
}
