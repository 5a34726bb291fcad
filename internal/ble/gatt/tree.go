package gatt

import "fmt"

// Tree is the GATT hierarchy known for one peripheral. A nil slice at any
// level means that level has not been discovered yet; a non-nil empty
// slice means it was discovered and is empty.
type Tree struct {
	Services []Service `json:"services"`
}

// Service is a discovered GATT service. IncludedServices holds value
// copies of sibling services, never references.
type Service struct {
	UUID             UUID             `json:"uuid"`
	IsPrimary        bool             `json:"is_primary"`
	IncludedServices []Service        `json:"included_services"`
	Characteristics  []Characteristic `json:"characteristics"`
}

// Characteristic is a discovered characteristic with its last known value.
type Characteristic struct {
	UUID        UUID         `json:"uuid"`
	Properties  Property     `json:"properties"`
	Value       []byte       `json:"value,omitempty"`
	IsNotifying bool         `json:"is_notifying"`
	Descriptors []Descriptor `json:"descriptors"`
}

// Descriptor is a discovered descriptor with its decoded value.
type Descriptor struct {
	UUID  UUID            `json:"uuid"`
	Value DescriptorValue `json:"value"`
}

// ServiceRef addresses a service within a tree.
type ServiceRef struct {
	Service UUID
}

// CharacteristicRef addresses a characteristic by its parent service.
type CharacteristicRef struct {
	Service        UUID
	Characteristic UUID
}

// DescriptorRef addresses a descriptor by its parent characteristic.
type DescriptorRef struct {
	Service        UUID
	Characteristic UUID
	Descriptor     UUID
}

// AttributeRef is a readable or writable attribute: a CharacteristicRef or
// a DescriptorRef.
type AttributeRef interface {
	attributeRef()
	String() string
}

func (CharacteristicRef) attributeRef() {}
func (DescriptorRef) attributeRef()     {}

func (r ServiceRef) String() string { return FormatUUID(r.Service) }

func (r CharacteristicRef) String() string {
	return fmt.Sprintf("%s/%s", FormatUUID(r.Service), FormatUUID(r.Characteristic))
}

func (r DescriptorRef) String() string {
	return fmt.Sprintf("%s/%s/%s", FormatUUID(r.Service), FormatUUID(r.Characteristic), FormatUUID(r.Descriptor))
}

// String forms are short for logs. MarshalText uses the full 128-bit
// form of each UUID, matching how UUIDs encode everywhere else in JSON.

// MarshalText lets refs key JSON objects.
func (r ServiceRef) MarshalText() ([]byte, error) {
	return []byte(r.Service.String()), nil
}

// MarshalText lets refs key JSON objects.
func (r CharacteristicRef) MarshalText() ([]byte, error) {
	return []byte(r.Service.String() + "/" + r.Characteristic.String()), nil
}

// MarshalText lets refs key JSON objects.
func (r DescriptorRef) MarshalText() ([]byte, error) {
	return []byte(r.Service.String() + "/" + r.Characteristic.String() + "/" + r.Descriptor.String()), nil
}

// Owner returns the characteristic the descriptor belongs to.
func (r DescriptorRef) Owner() CharacteristicRef {
	return CharacteristicRef{Service: r.Service, Characteristic: r.Characteristic}
}

// Parent returns the service the characteristic belongs to.
func (r CharacteristicRef) Parent() ServiceRef {
	return ServiceRef{Service: r.Service}
}

// Lookups return pointers into the tree's backing arrays, so a Tree copy
// still addresses the original elements.

// Known reports whether services have been discovered.
func (t Tree) Known() bool { return t.Services != nil }

// Service returns the service addressed by ref, or nil.
func (t Tree) Service(ref ServiceRef) *Service {
	for i := range t.Services {
		if t.Services[i].UUID == ref.Service {
			return &t.Services[i]
		}
	}
	return nil
}

// Characteristic returns the characteristic addressed by ref, or nil.
func (t Tree) Characteristic(ref CharacteristicRef) *Characteristic {
	s := t.Service(ref.Parent())
	if s == nil {
		return nil
	}
	for i := range s.Characteristics {
		if s.Characteristics[i].UUID == ref.Characteristic {
			return &s.Characteristics[i]
		}
	}
	return nil
}

// Descriptor returns the descriptor addressed by ref, or nil.
func (t Tree) Descriptor(ref DescriptorRef) *Descriptor {
	c := t.Characteristic(ref.Owner())
	if c == nil {
		return nil
	}
	for i := range c.Descriptors {
		if c.Descriptors[i].UUID == ref.Descriptor {
			return &c.Descriptors[i]
		}
	}
	return nil
}

// CharacteristicRefs lists the characteristics currently known under the
// service, in discovery order.
func (t Tree) CharacteristicRefs(ref ServiceRef) []CharacteristicRef {
	s := t.Service(ref)
	if s == nil {
		return nil
	}
	refs := make([]CharacteristicRef, 0, len(s.Characteristics))
	for _, c := range s.Characteristics {
		refs = append(refs, CharacteristicRef{Service: ref.Service, Characteristic: c.UUID})
	}
	return refs
}

// RemoveServices drops every service whose UUID is listed.
func (t *Tree) RemoveServices(uuids []UUID) {
	if t.Services == nil || len(uuids) == 0 {
		return
	}
	drop := make(map[UUID]bool, len(uuids))
	for _, u := range uuids {
		drop[u] = true
	}
	kept := t.Services[:0]
	for _, s := range t.Services {
		if !drop[s.UUID] {
			kept = append(kept, s)
		}
	}
	t.Services = kept
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	return Tree{Services: CloneServices(t.Services)}
}

// CloneServices deep-copies ss, keeping nil and empty slices distinct.
func CloneServices(ss []Service) []Service {
	if ss == nil {
		return nil
	}
	out := make([]Service, len(ss))
	for i, s := range ss {
		out[i] = s.Clone()
	}
	return out
}

// Clone returns a deep copy of the service.
func (s Service) Clone() Service {
	s.IncludedServices = CloneServices(s.IncludedServices)
	s.Characteristics = CloneCharacteristics(s.Characteristics)
	return s
}

// CloneCharacteristics deep-copies cs, keeping nil and empty slices distinct.
func CloneCharacteristics(cs []Characteristic) []Characteristic {
	if cs == nil {
		return nil
	}
	out := make([]Characteristic, len(cs))
	for i, c := range cs {
		out[i] = c.Clone()
	}
	return out
}

// Clone returns a deep copy of the characteristic.
func (c Characteristic) Clone() Characteristic {
	if c.Value != nil {
		c.Value = append([]byte(nil), c.Value...)
	}
	c.Descriptors = CloneDescriptors(c.Descriptors)
	return c
}

// CloneDescriptors deep-copies ds, keeping nil and empty slices distinct.
func CloneDescriptors(ds []Descriptor) []Descriptor {
	if ds == nil {
		return nil
	}
	out := make([]Descriptor, len(ds))
	for i, d := range ds {
		out[i] = d
		if d.Value.Raw != nil {
			out[i].Value.Raw = append([]byte(nil), d.Value.Raw...)
		}
		if d.Value.Number != nil {
			n := *d.Value.Number
			out[i].Value.Number = &n
		}
	}
	return out
}
