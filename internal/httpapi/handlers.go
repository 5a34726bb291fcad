package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
	"github.com/chaz8081/blecentral/internal/session"
)

func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]noticeJSON{}, s.notices...)
	s.mu.Unlock()
	jsonResponse(w, http.StatusOK, map[string]any{"notices": out})
}

func (s *Server) listPeripherals(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) requestScan(w http.ResponseWriter, r *http.Request) {
	s.ctl.RequestScan()
	accepted(w)
}

func (s *Server) stopScan(w http.ResponseWriter, r *http.Request) {
	s.ctl.StopScan()
	accepted(w)
}

func (s *Server) removeAllDiscovered(w http.ResponseWriter, r *http.Request) {
	s.ctl.RemoveAllDiscovered()
	accepted(w)
}

// peripheral resolves {id} against the current snapshot, writing the error
// response itself when it fails.
func (s *Server) peripheral(w http.ResponseWriter, r *http.Request) (session.Peripheral, bool) {
	id, err := ble.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return session.Peripheral{}, false
	}
	p, ok := s.ctl.Snapshot().Peripheral(id)
	if !ok {
		errorResponse(w, http.StatusNotFound, "peripheral not found: "+id.String())
		return session.Peripheral{}, false
	}
	return p, true
}

func (s *Server) getPeripheral(w http.ResponseWriter, r *http.Request) {
	p, ok := s.peripheral(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

func (s *Server) removePeripheral(w http.ResponseWriter, r *http.Request) {
	p, ok := s.peripheral(w, r)
	if !ok {
		return
	}
	if p.State == ble.Disconnected && !s.inConnectedList(p.ID) {
		s.ctl.RemoveDiscovered(p.ID)
	} else {
		s.ctl.RemoveConnected(p.ID)
	}
	accepted(w)
}

func (s *Server) inConnectedList(id ble.Identity) bool {
	for _, p := range s.ctl.Snapshot().Connected {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	p, ok := s.peripheral(w, r)
	if !ok {
		return
	}
	s.ctl.Connect(p.ID)
	accepted(w)
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	p, ok := s.peripheral(w, r)
	if !ok {
		return
	}
	s.ctl.Disconnect(p.ID)
	accepted(w)
}

func (s *Server) readRSSI(w http.ResponseWriter, r *http.Request) {
	p, ok := s.peripheral(w, r)
	if !ok {
		return
	}
	s.ctl.ReadRSSI(p.ID)
	accepted(w)
}

func (s *Server) discoverServices(w http.ResponseWriter, r *http.Request) {
	p, ok := s.peripheral(w, r)
	if !ok {
		return
	}
	filter, ok := uuidFilter(w, r)
	if !ok {
		return
	}
	s.ctl.DiscoverServices(p.ID, filter...)
	accepted(w)
}

func (s *Server) discoverCharacteristics(w http.ResponseWriter, r *http.Request) {
	p, ok := s.peripheral(w, r)
	if !ok {
		return
	}
	svc, err := gatt.ParseUUID(chi.URLParam(r, "service"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, ok := uuidFilter(w, r)
	if !ok {
		return
	}
	withDescriptors := false
	if v := r.URL.Query().Get("descriptors"); v != "" {
		withDescriptors, err = strconv.ParseBool(v)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "descriptors must be a boolean")
			return
		}
	}

	ref := gatt.ServiceRef{Service: svc}
	if withDescriptors {
		s.ctl.DiscoverCharacteristicsAndDescriptors(p.ID, ref, filter...)
	} else {
		s.ctl.DiscoverCharacteristics(p.ID, ref, filter...)
	}
	accepted(w)
}

// uuidFilter parses repeated ?uuid= parameters.
func uuidFilter(w http.ResponseWriter, r *http.Request) ([]gatt.UUID, bool) {
	filter, err := gatt.ParseUUIDs(r.URL.Query()["uuid"])
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return filter, true
}
