package session

import (
	"errors"
	"fmt"

	"github.com/chaz8081/blecentral/internal/ble"
)

var errConnectFailed = errors.New("connection failed")

func (s *Session) handleAdapter(ev ble.Event) {
	switch ev := ev.(type) {
	case ble.PowerChanged:
		s.onPower(ev.State)
	case ble.AuthorizationChanged:
		s.auth = ev.Authorization
		s.log.Info("[SESSION] authorization changed", "authorization", ev.Authorization)
		if err := s.availability(); err != nil {
			s.refuseScan(err)
		}
	case ble.ScanningChanged:
		s.scanning = ev.Scanning
	case ble.Discovered:
		s.onDiscovered(ev)
	case ble.ConnectedEvent:
		s.onConnected(ev.ID)
	case ble.DisconnectedEvent:
		s.onDisconnected(ev.ID, ev.Err)
	case ble.FailedToConnect:
		s.onFailedToConnect(ev.ID, ev.Err)
	default:
		s.stale(ev, "unexpected adapter event")
	}
}

// availability reports ErrAdapterUnavailable when scanning must not be
// attempted at all.
func (s *Session) availability() error {
	if s.power.Unavailable() {
		return unavailable(s.power)
	}
	if s.auth == ble.AuthorizationDenied || s.auth == ble.AuthorizationRestricted {
		return fmt.Errorf("%w: authorization %s", ErrAdapterUnavailable, s.auth)
	}
	return nil
}

// refuseScan reports a fatal adapter condition and drops any pending scan.
// It is not retried.
func (s *Session) refuseScan(err error) {
	s.scanRequested = false
	s.scanning = false
	s.log.Error("[SESSION] adapter unavailable", "error", err)
	s.report(Notice{Kind: NoticeAdapterUnavailable, Err: err})
}

func (s *Session) onPower(state ble.PowerState) {
	prev := s.power
	s.power = state
	s.log.Info("[SESSION] power changed", "from", prev, "to", state)
	if state != ble.PowerOn {
		s.scanning = false
	}
	if err := s.availability(); err != nil {
		s.refuseScan(err)
		return
	}
	if state == ble.PowerOn && prev != ble.PowerOn && s.scanRequested {
		s.log.Info("[SESSION] resuming deferred scan")
		s.startDiscovery()
	}
}

func (s *Session) requestScan() {
	s.scanRequested = true
	if err := s.availability(); err != nil {
		s.refuseScan(err)
		return
	}
	if s.power != ble.PowerOn {
		s.log.Info("[SESSION] scan deferred until powered on", "power", s.power)
		return
	}
	if s.scanning {
		return
	}
	s.startDiscovery()
}

// startDiscovery inserts peripherals the system already knows, then starts
// scanning.
func (s *Session) startDiscovery() {
	seen := make(map[ble.Identity]bool)
	var known []ble.Identity
	add := func(ids []ble.Identity) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				known = append(known, id)
			}
		}
	}
	if persisted := s.loadPersisted(); len(persisted) > 0 {
		add(s.adapter.RetrieveByIdentities(persisted))
	}
	add(s.adapter.RetrieveConnected(s.opts.RequiredServices))

	for _, id := range known {
		if s.adapter.ConnectionState(id) == ble.Connected {
			s.reg.PromoteToConnected(id)
			continue
		}
		s.reg.Track(id)
	}
	if len(known) > 0 {
		s.log.Info("[SESSION] retrieved known peripherals", "count", len(known))
	}

	if err := s.adapter.StartScan(s.opts.RequiredServices, s.opts.AllowDuplicates); err != nil {
		s.reportOp(ble.NilIdentity, OpScan, err)
		return
	}
	s.scanning = true
	s.log.Info("[SESSION] scanning", "services", len(s.opts.RequiredServices), "allow_duplicates", s.opts.AllowDuplicates)
}

func (s *Session) stopScan() {
	s.scanRequested = false
	if s.scanning || s.adapter.IsScanning() {
		if err := s.adapter.StopScan(); err != nil {
			s.reportOp(ble.NilIdentity, OpScan, err)
		}
	}
	s.scanning = false
	s.undiscover.CancelAll()
	n := s.reg.RemoveAllDiscovered()
	s.log.Info("[SESSION] scan stopped", "removed", n)
}

func (s *Session) onDiscovered(ev ble.Discovered) {
	rec := s.reg.UpsertDiscovered(ev.ID, ev.Advertisement, ev.RSSI)
	if rec == nil {
		return
	}
	if s.opts.AllowDuplicates && s.opts.UndiscoverAfter > 0 {
		id := ev.ID
		s.undiscover.Schedule(id, s.opts.UndiscoverAfter, func() {
			if r := s.reg.Get(id); r != nil && r.state != ble.Disconnected {
				return
			}
			if s.reg.RemoveDiscovered(id) {
				s.log.Info("[SESSION] peripheral expired", "peripheral", id)
			}
		})
	}
	if s.opts.AutoConnectPrevious && rec.state == ble.Disconnected && s.isPersisted(ev.ID) {
		s.log.Info("[SESSION] auto-connecting to known peripheral", "peripheral", ev.ID)
		s.connect(ev.ID)
	}
}

func (s *Session) onConnected(id ble.Identity) {
	s.undiscover.Cancel(id)
	s.reconnect.reset(id)
	delete(s.userDisconnect, id)
	s.persist(id)
	s.reg.PromoteToConnected(id)
}

func (s *Session) onDisconnected(id ble.Identity, err error) {
	requested := s.userDisconnect[id]
	delete(s.userDisconnect, id)
	if err != nil {
		s.log.Warn("[SESSION] peripheral disconnected", "peripheral", id, "error", err)
	} else {
		s.log.Info("[SESSION] peripheral disconnected", "peripheral", id)
	}
	s.report(Notice{Kind: NoticeDisconnected, ID: id, Err: err})
	s.reg.DemoteToDisconnected(id)
	if !requested {
		s.maybeReconnect(id)
	}
}

func (s *Session) onFailedToConnect(id ble.Identity, err error) {
	if err == nil {
		err = errConnectFailed
	}
	s.reg.SetState(id, ble.Disconnected)
	s.reportOp(id, OpConnect, err)
	if !s.userDisconnect[id] {
		s.maybeReconnect(id)
	}
	delete(s.userDisconnect, id)
}

func (s *Session) maybeReconnect(id ble.Identity) {
	if !s.opts.Reconnect.Enabled || s.power != ble.PowerOn || !s.isPersisted(id) {
		return
	}
	attempt := s.reconnect.Attempts(id) + 1
	delay := s.reconnect.next(id, func() {
		if s.power != ble.PowerOn {
			return
		}
		s.reg.Track(id)
		s.connect(id)
	})
	s.log.Info("[SESSION] reconnect scheduled", "peripheral", id, "attempt", attempt, "delay", delay)
}

// connect issues a connect for a peripheral already in the registry.
func (s *Session) connect(id ble.Identity) {
	rec := s.reg.Get(id)
	if rec == nil {
		s.reportOp(id, OpConnect, ErrUnknownPeripheral)
		return
	}
	if rec.state == ble.Connected || rec.state == ble.Connecting {
		return
	}
	if err := s.availability(); err != nil {
		s.reportOp(id, OpConnect, err)
		return
	}
	delete(s.userDisconnect, id)
	if err := s.adapter.Connect(id, s.opts.ConnectOptions); err != nil {
		s.reportOp(id, OpConnect, err)
		return
	}
	rec.state = ble.Connecting
}

func (s *Session) disconnect(id ble.Identity) {
	rec := s.reg.Get(id)
	if rec == nil {
		s.reportOp(id, OpDisconnect, ErrUnknownPeripheral)
		return
	}
	s.reconnect.reset(id)
	if rec.state == ble.Disconnected {
		return
	}
	s.userDisconnect[id] = true
	if err := s.adapter.Disconnect(id); err != nil {
		delete(s.userDisconnect, id)
		s.reportOp(id, OpDisconnect, err)
		return
	}
	rec.state = ble.Disconnecting
}

func (s *Session) removeDiscovered(id ble.Identity) {
	s.undiscover.Cancel(id)
	if !s.reg.RemoveDiscovered(id) {
		s.log.Debug("[SESSION] remove of undiscovered peripheral ignored", "peripheral", id)
	}
}

func (s *Session) removeAllDiscovered() {
	s.undiscover.CancelAll()
	s.reg.RemoveAllDiscovered()
}

// removeConnected drops the record and tears the link down. The disconnect
// that follows is treated as user-requested.
func (s *Session) removeConnected(id ble.Identity) {
	rec := s.reg.Get(id)
	if rec == nil {
		return
	}
	s.reconnect.reset(id)
	state := rec.state
	if !s.reg.RemoveConnected(id) {
		return
	}
	if state == ble.Connected || state == ble.Connecting {
		s.userDisconnect[id] = true
		if err := s.adapter.Disconnect(id); err != nil {
			delete(s.userDisconnect, id)
			s.reportOp(id, OpDisconnect, err)
		}
	}
}

func (s *Session) readRSSI(id ble.Identity) {
	if s.connectedRecord(id, OpReadRSSI) == nil {
		return
	}
	if err := s.adapter.ReadRSSI(id); err != nil {
		s.reportOp(id, OpReadRSSI, err)
	}
}

func (s *Session) loadPersisted() []ble.Identity {
	if s.store == nil {
		return nil
	}
	ids, err := s.store.Load()
	if err != nil {
		s.log.Warn("[SESSION] load persisted peripherals", "error", err)
		return nil
	}
	return ids
}

func (s *Session) isPersisted(id ble.Identity) bool {
	for _, p := range s.loadPersisted() {
		if p == id {
			return true
		}
	}
	return false
}

// persist adds id to the store. Adding an identity already present is a
// no-op.
func (s *Session) persist(id ble.Identity) {
	if s.store == nil {
		return
	}
	ids, err := s.store.Load()
	if err != nil {
		s.reportOp(id, OpPersist, err)
		return
	}
	for _, p := range ids {
		if p == id {
			return
		}
	}
	if err := s.store.Save(append(ids, id)); err != nil {
		s.reportOp(id, OpPersist, err)
		return
	}
	s.log.Info("[SESSION] peripheral persisted", "peripheral", id)
}
