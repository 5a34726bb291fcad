// Package session is the serialized state machine between a ble.Adapter and
// a presentation layer. It owns the peripheral registry, the per-peripheral
// GATT discovery sub-states, the undiscover and reconnect timers, and the
// scan policy. All of it is mutated only on the loop started by Run; callers
// issue commands, read Snapshot and listen on Notices.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// IdentityStore persists the peripherals the application connected to.
type IdentityStore interface {
	Load() ([]ble.Identity, error)
	Save(ids []ble.Identity) error
}

// Options configures a Session.
type Options struct {
	// RequiredServices filters scanning and connected-peripheral retrieval.
	RequiredServices []gatt.UUID
	// AllowDuplicates reports every advertisement and arms the undiscover
	// timer on each one.
	AllowDuplicates bool
	// UndiscoverAfter is the quiet period after which a discovered
	// peripheral is dropped. Only used with AllowDuplicates.
	UndiscoverAfter time.Duration
	// UnifiedList keeps a single peripheral list instead of separate
	// discovered and connected lists.
	UnifiedList bool
	// AutoConnectPrevious connects to persisted peripherals as soon as they
	// advertise.
	AutoConnectPrevious bool
	Reconnect           ReconnectPolicy
	ConnectOptions      *ble.ConnectOptions

	Clock        Clock
	Logger       *slog.Logger
	NoticeBuffer int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		UndiscoverAfter:     5 * time.Second,
		AutoConnectPrevious: true,
		Reconnect:           ReconnectPolicy{MaxBackoff: 30 * time.Second},
		NoticeBuffer:        64,
	}
}

// Session is the top-level reactor over one adapter.
type Session struct {
	adapter ble.Adapter
	store   IdentityStore
	opts    Options
	log     *slog.Logger

	d          *Dispatcher
	reg        *Registry
	undiscover *debouncer
	reconnect  *reconnector

	started        bool
	power          ble.PowerState
	auth           ble.Authorization
	scanning       bool
	scanRequested  bool
	userDisconnect map[ble.Identity]bool

	snap    atomic.Pointer[Snapshot]
	changes chan struct{}
	notices chan Notice
}

// New creates a session. store may be nil, in which case nothing is
// persisted and auto-connect never fires.
func New(adapter ble.Adapter, store IdentityStore, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NoticeBuffer <= 0 {
		opts.NoticeBuffer = 64
	}
	s := &Session{
		adapter:        adapter,
		store:          store,
		opts:           opts,
		log:            opts.Logger,
		userDisconnect: make(map[ble.Identity]bool),
		changes:        make(chan struct{}, 1),
		notices:        make(chan Notice, opts.NoticeBuffer),
	}
	s.d = NewDispatcher(adapter, s.log)
	s.reg = NewRegistry(s.d, adapter, opts.UnifiedList, s.log)
	s.undiscover = newDebouncer(opts.Clock, s.d.postTimer)
	s.reconnect = newReconnector(opts.Reconnect, newDebouncer(opts.Clock, s.d.postTimer))
	s.snap.Store(&Snapshot{Discovered: []Peripheral{}, Connected: []Peripheral{}})
	return s
}

// Run starts the adapter and processes events until ctx is done. It returns
// nil once ctx is cancelled or its deadline passes.
func (s *Session) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		return err
	}
	defer s.stopTimers()
	err := s.d.Run(ctx, s.handle)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Session) start() error {
	if s.started {
		return nil
	}
	if err := s.adapter.Start(s.d.AdapterSink()); err != nil {
		return fmt.Errorf("session: start adapter: %w", err)
	}
	s.started = true
	s.power = s.adapter.PowerState()
	s.auth = s.adapter.Authorization()
	s.scanning = s.adapter.IsScanning()
	s.log.Info("[SESSION] started", "power", s.power, "authorization", s.auth)
	if err := s.availability(); err != nil {
		s.report(Notice{Kind: NoticeAdapterUnavailable, Err: err})
	}
	s.publish()
	return nil
}

func (s *Session) stopTimers() {
	s.undiscover.CancelAll()
	s.reconnect.timers.CancelAll()
}

// drain processes every queued item without blocking.
func (s *Session) drain() {
	s.d.drain(s.handle)
}

func (s *Session) handle(it item) {
	switch it.kind {
	case itemAdapterEvent:
		s.handleAdapter(it.event)
	case itemPeripheralEvent:
		s.handlePeripheral(it.token, it.event)
	case itemCommand, itemTimer:
		it.run()
	}
	s.publish()
}

func (s *Session) handlePeripheral(token Token, ev ble.Event) {
	pev, ok := ev.(ble.PeripheralEvent)
	if !ok {
		s.stale(ev, "not a peripheral event")
		return
	}
	id, live := s.d.Live(token)
	if !live || id != pev.Peripheral() {
		s.stale(ev, "subscription no longer live")
		return
	}
	rec := s.reg.Get(id)
	if rec == nil || rec.token != token {
		s.stale(ev, "record replaced")
		return
	}
	s.handleGATT(rec, pev)
}

func (s *Session) stale(ev ble.Event, reason string) {
	s.log.Debug("[SESSION] stale event ignored", "event", fmt.Sprintf("%T", ev), "reason", reason)
}

func (s *Session) publish() {
	discovered, connected := s.reg.snapshot()
	s.snap.Store(&Snapshot{
		Power:         s.power,
		Authorization: s.auth,
		Scanning:      s.scanning,
		PendingScan:   s.scanRequested && !s.scanning,
		Discovered:    discovered,
		Connected:     connected,
	})
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns the model as of the last processed item. It is safe to
// call from any goroutine and the result is never mutated.
func (s *Session) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Changes signals after items are processed. Signals coalesce.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Notices delivers adapter-unavailable conditions, operation failures,
// disconnects and completed descriptor chains.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}
