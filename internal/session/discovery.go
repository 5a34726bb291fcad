package session

import (
	"sort"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// slot is the phase of one discovery level plus the phase to restore if
// the step in flight fails. A success updates both, so a later failure of
// an overlapping request falls back to Known.
type slot struct {
	cur, prior Phase
}

func (s *slot) begin() {
	if s.cur != PhaseDiscovering {
		s.prior = s.cur
	}
	s.cur = PhaseDiscovering
}

func (s *slot) succeed() {
	s.cur = PhaseKnown
	s.prior = PhaseKnown
}

func (s *slot) fail() { s.cur = s.prior }

// chain is an automatic characteristics -> descriptors walk over one
// service. pending holds the characteristics whose descriptor discovery
// has not completed yet.
type chain struct {
	awaitingCharacteristics bool
	pending                 map[gatt.CharacteristicRef]bool
}

// discoveryState is the transient per-peripheral GATT sub-state. It is
// never part of the tree.
type discoveryState struct {
	services slot
	included map[gatt.UUID]*slot
	chars    map[gatt.UUID]*slot
	descs    map[gatt.CharacteristicRef]*slot
	chains   map[gatt.UUID]*chain
}

func newDiscoveryState() *discoveryState {
	return &discoveryState{
		included: make(map[gatt.UUID]*slot),
		chars:    make(map[gatt.UUID]*slot),
		descs:    make(map[gatt.CharacteristicRef]*slot),
		chains:   make(map[gatt.UUID]*chain),
	}
}

func slotFor[K comparable](m map[K]*slot, k K) *slot {
	s, ok := m[k]
	if !ok {
		s = &slot{}
		m[k] = s
	}
	return s
}

// forget drops every sub-state below the listed services.
func (ds *discoveryState) forget(services []gatt.UUID) {
	for _, u := range services {
		delete(ds.included, u)
		delete(ds.chars, u)
		delete(ds.chains, u)
		for ref := range ds.descs {
			if ref.Service == u {
				delete(ds.descs, ref)
			}
		}
	}
}

// retain drops sub-state for services not present in tree.
func (ds *discoveryState) retain(tree gatt.Tree) {
	var gone []gatt.UUID
	seen := func(u gatt.UUID) bool { return tree.Service(gatt.ServiceRef{Service: u}) != nil }
	for u := range ds.chars {
		if !seen(u) {
			gone = append(gone, u)
		}
	}
	for u := range ds.included {
		if !seen(u) {
			gone = append(gone, u)
		}
	}
	for u := range ds.chains {
		if !seen(u) {
			gone = append(gone, u)
		}
	}
	ds.forget(gone)
}

func (ds *discoveryState) status() DiscoveryStatus {
	st := DiscoveryStatus{Services: ds.services.cur}
	if len(ds.included) > 0 {
		st.IncludedServices = make(map[gatt.ServiceRef]Phase, len(ds.included))
		for u, s := range ds.included {
			st.IncludedServices[gatt.ServiceRef{Service: u}] = s.cur
		}
	}
	if len(ds.chars) > 0 {
		st.Characteristics = make(map[gatt.ServiceRef]Phase, len(ds.chars))
		for u, s := range ds.chars {
			st.Characteristics[gatt.ServiceRef{Service: u}] = s.cur
		}
	}
	if len(ds.descs) > 0 {
		st.Descriptors = make(map[gatt.CharacteristicRef]Phase, len(ds.descs))
		for ref, s := range ds.descs {
			st.Descriptors[ref] = s.cur
		}
	}
	for u := range ds.chains {
		st.Chains = append(st.Chains, gatt.ServiceRef{Service: u})
	}
	sort.Slice(st.Chains, func(i, j int) bool {
		return st.Chains[i].String() < st.Chains[j].String()
	})
	return st
}

// connectedRecord returns the record an on-demand GATT operation targets,
// reporting why it cannot run when it is missing or not connected.
func (s *Session) connectedRecord(id ble.Identity, op Op) *record {
	rec := s.reg.Get(id)
	if rec == nil {
		s.reportOp(id, op, ErrUnknownPeripheral)
		return nil
	}
	if rec.state != ble.Connected {
		s.reportOp(id, op, ErrNotConnected)
		return nil
	}
	return rec
}

func (s *Session) knownService(rec *record, service gatt.ServiceRef, op Op) bool {
	if rec.tree.Service(service) == nil {
		s.reportOp(rec.id, op, unknownAttribute(service))
		return false
	}
	return true
}

func (s *Session) discoverServices(id ble.Identity, filter []gatt.UUID) {
	rec := s.connectedRecord(id, OpDiscoverServices)
	if rec == nil {
		return
	}
	if err := s.adapter.DiscoverServices(id, filter); err != nil {
		s.reportOp(id, OpDiscoverServices, err)
		return
	}
	rec.disc.services.begin()
}

func (s *Session) discoverIncludedServices(id ble.Identity, service gatt.ServiceRef, filter []gatt.UUID) {
	rec := s.connectedRecord(id, OpDiscoverIncludedServices)
	if rec == nil || !s.knownService(rec, service, OpDiscoverIncludedServices) {
		return
	}
	if err := s.adapter.DiscoverIncludedServices(id, service, filter); err != nil {
		s.reportOp(id, OpDiscoverIncludedServices, err)
		return
	}
	slotFor(rec.disc.included, service.Service).begin()
}

func (s *Session) discoverCharacteristics(id ble.Identity, service gatt.ServiceRef, filter []gatt.UUID, chainDescriptors bool) {
	rec := s.connectedRecord(id, OpDiscoverCharacteristics)
	if rec == nil || !s.knownService(rec, service, OpDiscoverCharacteristics) {
		return
	}
	if err := s.adapter.DiscoverCharacteristics(id, service, filter); err != nil {
		s.reportOp(id, OpDiscoverCharacteristics, err)
		return
	}
	slotFor(rec.disc.chars, service.Service).begin()
	if chainDescriptors {
		rec.disc.chains[service.Service] = &chain{
			awaitingCharacteristics: true,
			pending:                 make(map[gatt.CharacteristicRef]bool),
		}
	}
}

func (s *Session) discoverDescriptors(id ble.Identity, characteristic gatt.CharacteristicRef) {
	rec := s.connectedRecord(id, OpDiscoverDescriptors)
	if rec == nil {
		return
	}
	if rec.tree.Characteristic(characteristic) == nil {
		s.reportOp(id, OpDiscoverDescriptors, unknownAttribute(characteristic))
		return
	}
	s.issueDescriptors(rec, characteristic)
}

func (s *Session) issueDescriptors(rec *record, characteristic gatt.CharacteristicRef) bool {
	if err := s.adapter.DiscoverDescriptors(rec.id, characteristic); err != nil {
		s.reportOp(rec.id, OpDiscoverDescriptors, err)
		return false
	}
	slotFor(rec.disc.descs, characteristic).begin()
	return true
}

// handleGATT applies a per-peripheral completion to rec. The caller has
// already checked that the event belongs to rec's live subscription.
func (s *Session) handleGATT(rec *record, ev ble.PeripheralEvent) {
	switch ev := ev.(type) {
	case ble.ServicesDiscovered:
		s.onServicesDiscovered(rec, ev)
	case ble.IncludedServicesDiscovered:
		s.onIncludedServicesDiscovered(rec, ev)
	case ble.CharacteristicsDiscovered:
		s.onCharacteristicsDiscovered(rec, ev)
	case ble.DescriptorsDiscovered:
		s.onDescriptorsDiscovered(rec, ev)
	case ble.ValueUpdated:
		s.onValueUpdated(rec, ev)
	case ble.ValueWritten:
		if ev.Err != nil {
			s.reportOp(rec.id, OpWriteValue, ev.Err)
			return
		}
		s.log.Debug("[SESSION] value written", "peripheral", rec.id, "target", ev.Target)
	case ble.NotificationStateChanged:
		if ev.Err != nil {
			s.reportOp(rec.id, OpSetNotify, ev.Err)
			return
		}
		c := rec.tree.Characteristic(ev.Characteristic)
		if c == nil {
			s.stale(ev, "characteristic not in tree")
			return
		}
		c.IsNotifying = ev.Enabled
	case ble.RSSIRead:
		if ev.Err != nil {
			s.reportOp(rec.id, OpReadRSSI, ev.Err)
			return
		}
		v := ev.RSSI
		rec.rssi = &v
	case ble.NameUpdated:
		rec.name = ev.Name
	case ble.StateChanged:
		rec.state = ev.State
	case ble.ServicesModified:
		rec.tree.RemoveServices(ev.Invalidated)
		rec.disc.forget(ev.Invalidated)
		s.log.Info("[SESSION] services invalidated", "peripheral", rec.id, "count", len(ev.Invalidated))
	default:
		s.stale(ev, "unexpected per-peripheral event")
	}
}

func (s *Session) onServicesDiscovered(rec *record, ev ble.ServicesDiscovered) {
	if ev.Err != nil {
		rec.disc.services.fail()
		s.reportOp(rec.id, OpDiscoverServices, ev.Err)
		return
	}
	services := s.adapter.Services(rec.id)
	if services == nil {
		services = []gatt.Service{}
	}
	rec.tree.Services = services
	rec.disc.services.succeed()
	rec.disc.retain(rec.tree)
	s.log.Info("[SESSION] services discovered", "peripheral", rec.id, "count", len(services))
}

func (s *Session) onIncludedServicesDiscovered(rec *record, ev ble.IncludedServicesDiscovered) {
	sl := slotFor(rec.disc.included, ev.Service.Service)
	if ev.Err != nil {
		sl.fail()
		s.reportOp(rec.id, OpDiscoverIncludedServices, ev.Err)
		return
	}
	svc := rec.tree.Service(ev.Service)
	if svc == nil {
		delete(rec.disc.included, ev.Service.Service)
		s.stale(ev, "service not in tree")
		return
	}
	snap := gatt.Tree{Services: s.adapter.Services(rec.id)}
	included := []gatt.Service{}
	if from := snap.Service(ev.Service); from != nil && from.IncludedServices != nil {
		included = from.IncludedServices
	}
	svc.IncludedServices = included
	sl.succeed()
}

func (s *Session) onCharacteristicsDiscovered(rec *record, ev ble.CharacteristicsDiscovered) {
	sl := slotFor(rec.disc.chars, ev.Service.Service)
	ch := rec.disc.chains[ev.Service.Service]
	if ev.Err != nil {
		sl.fail()
		if ch != nil && ch.awaitingCharacteristics {
			delete(rec.disc.chains, ev.Service.Service)
		}
		s.reportOp(rec.id, OpDiscoverCharacteristics, ev.Err)
		return
	}
	svc := rec.tree.Service(ev.Service)
	if svc == nil {
		delete(rec.disc.chars, ev.Service.Service)
		delete(rec.disc.chains, ev.Service.Service)
		s.stale(ev, "service not in tree")
		return
	}
	snap := gatt.Tree{Services: s.adapter.Services(rec.id)}
	chars := []gatt.Characteristic{}
	if from := snap.Service(ev.Service); from != nil && from.Characteristics != nil {
		chars = from.Characteristics
	}
	svc.Characteristics = chars
	sl.succeed()
	s.log.Debug("[SESSION] characteristics discovered", "peripheral", rec.id, "service", ev.Service, "count", len(chars))

	if ch == nil || !ch.awaitingCharacteristics {
		return
	}
	ch.awaitingCharacteristics = false
	for _, ref := range rec.tree.CharacteristicRefs(ev.Service) {
		if s.issueDescriptors(rec, ref) {
			ch.pending[ref] = true
		}
	}
	s.maybeCompleteChain(rec, ev.Service)
}

func (s *Session) onDescriptorsDiscovered(rec *record, ev ble.DescriptorsDiscovered) {
	sl := slotFor(rec.disc.descs, ev.Characteristic)
	defer s.settleChain(rec, ev.Characteristic)
	if ev.Err != nil {
		sl.fail()
		s.reportOp(rec.id, OpDiscoverDescriptors, ev.Err)
		return
	}
	c := rec.tree.Characteristic(ev.Characteristic)
	if c == nil {
		delete(rec.disc.descs, ev.Characteristic)
		s.stale(ev, "characteristic not in tree")
		return
	}
	snap := gatt.Tree{Services: s.adapter.Services(rec.id)}
	descs := []gatt.Descriptor{}
	if from := snap.Characteristic(ev.Characteristic); from != nil && from.Descriptors != nil {
		descs = from.Descriptors
	}
	c.Descriptors = descs
	sl.succeed()
}

// settleChain marks one chained descriptor discovery as finished, whatever
// its outcome.
func (s *Session) settleChain(rec *record, ref gatt.CharacteristicRef) {
	ch := rec.disc.chains[ref.Service]
	if ch == nil || !ch.pending[ref] {
		return
	}
	delete(ch.pending, ref)
	s.maybeCompleteChain(rec, ref.Parent())
}

func (s *Session) maybeCompleteChain(rec *record, service gatt.ServiceRef) {
	ch := rec.disc.chains[service.Service]
	if ch == nil || ch.awaitingCharacteristics || len(ch.pending) > 0 {
		return
	}
	delete(rec.disc.chains, service.Service)
	s.log.Info("[SESSION] descriptor chain complete", "peripheral", rec.id, "service", service)
	s.report(Notice{Kind: NoticeChainCompleted, ID: rec.id, Service: service})
}

func (s *Session) onValueUpdated(rec *record, ev ble.ValueUpdated) {
	if ev.Err != nil {
		s.reportOp(rec.id, OpReadValue, ev.Err)
		return
	}
	switch t := ev.Target.(type) {
	case gatt.CharacteristicRef:
		c := rec.tree.Characteristic(t)
		if c == nil {
			s.stale(ev, "characteristic not in tree")
			return
		}
		c.Value = append([]byte{}, ev.Value...)
	case gatt.DescriptorRef:
		d := rec.tree.Descriptor(t)
		if d == nil {
			s.stale(ev, "descriptor not in tree")
			return
		}
		d.Value = gatt.DecodeDescriptor(t.Descriptor, ev.Value)
	default:
		s.stale(ev, "unknown attribute target")
	}
}

func (s *Session) readValue(id ble.Identity, target gatt.AttributeRef) {
	rec := s.connectedRecord(id, OpReadValue)
	if rec == nil || !s.knownAttribute(rec, target, OpReadValue) {
		return
	}
	if err := s.adapter.ReadValue(id, target); err != nil {
		s.reportOp(id, OpReadValue, err)
	}
}

func (s *Session) writeValue(id ble.Identity, target gatt.AttributeRef, data []byte, mode ble.WriteMode) {
	rec := s.connectedRecord(id, OpWriteValue)
	if rec == nil || !s.knownAttribute(rec, target, OpWriteValue) {
		return
	}
	if err := s.adapter.WriteValue(id, target, data, mode); err != nil {
		s.reportOp(id, OpWriteValue, err)
	}
}

func (s *Session) setNotify(id ble.Identity, characteristic gatt.CharacteristicRef, enabled bool) {
	rec := s.connectedRecord(id, OpSetNotify)
	if rec == nil || !s.knownAttribute(rec, characteristic, OpSetNotify) {
		return
	}
	if err := s.adapter.SetNotify(id, characteristic, enabled); err != nil {
		s.reportOp(id, OpSetNotify, err)
	}
}

func (s *Session) knownAttribute(rec *record, target gatt.AttributeRef, op Op) bool {
	found := false
	switch t := target.(type) {
	case gatt.CharacteristicRef:
		found = rec.tree.Characteristic(t) != nil
	case gatt.DescriptorRef:
		found = rec.tree.Descriptor(t) != nil
	}
	if !found {
		s.reportOp(rec.id, op, unknownAttribute(target))
	}
	return found
}
