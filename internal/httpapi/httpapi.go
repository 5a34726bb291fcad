// Package httpapi serves a small JSON control API over a session.
//
// Commands are asynchronous: every mutating route answers 202 Accepted and
// the outcome shows up in later snapshots or in /notices.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
	"github.com/chaz8081/blecentral/internal/session"
)

// Controller is the part of *session.Session the API drives.
type Controller interface {
	Snapshot() *session.Snapshot
	RequestScan()
	StopScan()
	Connect(id ble.Identity)
	Disconnect(id ble.Identity)
	RemoveDiscovered(id ble.Identity)
	RemoveAllDiscovered()
	RemoveConnected(id ble.Identity)
	ReadRSSI(id ble.Identity)
	DiscoverServices(id ble.Identity, filter ...gatt.UUID)
	DiscoverCharacteristics(id ble.Identity, service gatt.ServiceRef, filter ...gatt.UUID)
	DiscoverCharacteristicsAndDescriptors(id ble.Identity, service gatt.ServiceRef, filter ...gatt.UUID)
}

var _ Controller = (*session.Session)(nil)

// recentNotices is how many notices /notices keeps.
const recentNotices = 50

// Server holds the router and the recent notice log.
type Server struct {
	ctl    Controller
	log    *slog.Logger
	router chi.Router

	mu      sync.Mutex
	notices []noticeJSON
}

type noticeJSON struct {
	Time    time.Time          `json:"time"`
	Kind    session.NoticeKind `json:"kind"`
	ID      *ble.Identity      `json:"id,omitempty"`
	Service *gatt.ServiceRef   `json:"service,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// New builds the API for ctl.
func New(ctl Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{ctl: ctl, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"status": "ok", "service": "blecentral"})
	})
	r.Get("/notices", s.listNotices)

	r.Post("/scan", s.requestScan)
	r.Delete("/scan", s.stopScan)

	r.Route("/peripherals", func(r chi.Router) {
		r.Get("/", s.listPeripherals)
		r.Delete("/discovered", s.removeAllDiscovered)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getPeripheral)
			r.Delete("/", s.removePeripheral)
			r.Post("/connect", s.connect)
			r.Post("/disconnect", s.disconnect)
			r.Post("/rssi", s.readRSSI)
			r.Post("/services/discover", s.discoverServices)
			r.Post("/services/{service}/characteristics/discover", s.discoverCharacteristics)
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Record adds n to the recent notice log.
func (s *Server) Record(n session.Notice) {
	out := noticeJSON{Time: time.Now(), Kind: n.Kind}
	if !n.ID.IsNil() {
		id := n.ID
		out.ID = &id
	}
	if n.Kind == session.NoticeChainCompleted {
		svc := n.Service
		out.Service = &svc
	}
	if n.Err != nil {
		out.Error = n.Err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, out)
	if len(s.notices) > recentNotices {
		s.notices = s.notices[len(s.notices)-recentNotices:]
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("[HTTP] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]any{
		"error": message,
		"code":  status,
	})
}

func accepted(w http.ResponseWriter) {
	jsonResponse(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}
