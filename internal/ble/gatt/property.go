package gatt

import "strings"

// Property is the characteristic properties bit field from the
// characteristic declaration.
type Property uint16

const (
	PropBroadcast                  Property = 0x01
	PropRead                       Property = 0x02
	PropWriteWithoutResponse       Property = 0x04
	PropWrite                      Property = 0x08
	PropNotify                     Property = 0x10
	PropIndicate                   Property = 0x20
	PropAuthenticatedSignedWrites  Property = 0x40
	PropExtendedProperties         Property = 0x80
	PropNotifyEncryptionRequired   Property = 0x100
	PropIndicateEncryptionRequired Property = 0x200
)

var propertyNames = []struct {
	p    Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "writeWithoutResponse"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "authenticatedSignedWrites"},
	{PropExtendedProperties, "extendedProperties"},
	{PropNotifyEncryptionRequired, "notifyEncryptionRequired"},
	{PropIndicateEncryptionRequired, "indicateEncryptionRequired"},
}

// Has reports whether every bit in q is set in p.
func (p Property) Has(q Property) bool { return p&q == q }

func (p Property) String() string {
	if p == 0 {
		return "none"
	}
	var names []string
	for _, n := range propertyNames {
		if p.Has(n.p) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}
