package gatt

import (
	"encoding/binary"
	"fmt"
)

// Well-known descriptor types.
var (
	CharacteristicExtendedPropertiesUUID = UUID16(0x2900)
	CharacteristicUserDescriptionUUID    = UUID16(0x2901)
	ClientCharacteristicConfigUUID       = UUID16(0x2902)
	ServerCharacteristicConfigUUID       = UUID16(0x2903)
	CharacteristicFormatUUID             = UUID16(0x2904)
	CharacteristicAggregateFormatUUID    = UUID16(0x2905)
)

// DescriptorKind tells which field of a DescriptorValue is meaningful.
type DescriptorKind int

const (
	DescriptorUnknown DescriptorKind = iota
	DescriptorExtendedProperties
	DescriptorUserDescription
	DescriptorClientConfig
	DescriptorServerConfig
	DescriptorFormat
	DescriptorAggregateFormat
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorExtendedProperties:
		return "extendedProperties"
	case DescriptorUserDescription:
		return "userDescription"
	case DescriptorClientConfig:
		return "clientConfig"
	case DescriptorServerConfig:
		return "serverConfig"
	case DescriptorFormat:
		return "format"
	case DescriptorAggregateFormat:
		return "aggregateFormat"
	default:
		return "unknown"
	}
}

// DescriptorValue is a descriptor's value decoded according to its type.
// Number is set for the bit-field kinds, Text for the user description and
// Raw always carries the bytes as read.
type DescriptorValue struct {
	Kind   DescriptorKind `json:"kind"`
	Number *uint16        `json:"number,omitempty"`
	Text   string         `json:"text,omitempty"`
	Raw    []byte         `json:"raw,omitempty"`
}

func descriptorKind(u UUID) DescriptorKind {
	switch u {
	case CharacteristicExtendedPropertiesUUID:
		return DescriptorExtendedProperties
	case CharacteristicUserDescriptionUUID:
		return DescriptorUserDescription
	case ClientCharacteristicConfigUUID:
		return DescriptorClientConfig
	case ServerCharacteristicConfigUUID:
		return DescriptorServerConfig
	case CharacteristicFormatUUID:
		return DescriptorFormat
	case CharacteristicAggregateFormatUUID:
		return DescriptorAggregateFormat
	default:
		return DescriptorUnknown
	}
}

// DecodeDescriptor interprets raw according to the descriptor type u. A nil
// raw value (never read) yields a value with only Kind set.
func DecodeDescriptor(u UUID, raw []byte) DescriptorValue {
	v := DescriptorValue{Kind: descriptorKind(u)}
	if raw == nil {
		return v
	}
	v.Raw = append([]byte(nil), raw...)
	switch v.Kind {
	case DescriptorExtendedProperties, DescriptorClientConfig, DescriptorServerConfig:
		if len(raw) >= 2 {
			n := binary.LittleEndian.Uint16(raw)
			v.Number = &n
		}
	case DescriptorUserDescription:
		v.Text = string(raw)
	}
	return v
}

func (v DescriptorValue) String() string {
	switch {
	case v.Number != nil:
		return fmt.Sprintf("%s(%#04x)", v.Kind, *v.Number)
	case v.Kind == DescriptorUserDescription:
		return fmt.Sprintf("%s(%q)", v.Kind, v.Text)
	default:
		return fmt.Sprintf("%s(%x)", v.Kind, v.Raw)
	}
}
