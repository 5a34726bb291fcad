package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chaz8081/blecentral/internal/ble"
)

// Token identifies one live per-peripheral subscription. The zero Token
// is never issued.
type Token uint64

type itemKind int

const (
	itemAdapterEvent itemKind = iota
	itemPeripheralEvent
	itemCommand
	itemTimer
)

// item is one entry of the serialized queue. Per-peripheral events carry
// the token of the subscription that delivered them so events still queued
// after a cancel can be told apart from live ones.
type item struct {
	kind  itemKind
	token Token
	event ble.Event
	run   func()
}

type subscription struct {
	id     ble.Identity
	token  Token
	cancel func()
}

// Dispatcher serializes adapter events, timer firings and commands into a
// single ordered queue and owns the per-peripheral subscriptions.
//
// post is safe from any goroutine. Everything else must only be called from
// the goroutine draining the queue.
type Dispatcher struct {
	adapter ble.Adapter
	log     *slog.Logger

	mu      sync.Mutex
	pending []item
	wake    chan struct{}

	subs      map[ble.Identity]*subscription
	byToken   map[Token]*subscription
	lastToken Token
}

// NewDispatcher creates a dispatcher over adapter.
func NewDispatcher(adapter ble.Adapter, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		adapter: adapter,
		log:     log,
		wake:    make(chan struct{}, 1),
		subs:    make(map[ble.Identity]*subscription),
		byToken: make(map[Token]*subscription),
	}
}

func (d *Dispatcher) post(it item) {
	d.mu.Lock()
	d.pending = append(d.pending, it)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// AdapterSink returns the sink adapter-level events are delivered to.
func (d *Dispatcher) AdapterSink() ble.Sink {
	return func(ev ble.Event) {
		d.post(item{kind: itemAdapterEvent, event: ev})
	}
}

// Post queues a command to run inside the loop.
func (d *Dispatcher) Post(fn func()) {
	d.post(item{kind: itemCommand, run: fn})
}

func (d *Dispatcher) postTimer(fn func()) {
	d.post(item{kind: itemTimer, run: fn})
}

func (d *Dispatcher) pop() (item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return item{}, false
	}
	it := d.pending[0]
	d.pending[0] = item{}
	d.pending = d.pending[1:]
	return it, true
}

// drain handles queued items until the queue is empty, including items
// queued by the handler itself.
func (d *Dispatcher) drain(handle func(item)) {
	for {
		it, ok := d.pop()
		if !ok {
			return
		}
		handle(it)
	}
}

// Run drains the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, handle func(item)) error {
	for {
		d.drain(handle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		}
	}
}

// Subscribe opens the single live event stream for id. If one is already
// live its token is returned and created is false. A fresh subscription to a
// peripheral the adapter reports as connected issues an RSSI read.
func (d *Dispatcher) Subscribe(id ble.Identity) (token Token, created bool) {
	if s, ok := d.subs[id]; ok {
		return s.token, false
	}
	d.lastToken++
	s := &subscription{id: id, token: d.lastToken}
	tok := s.token
	s.cancel = d.adapter.Subscribe(id, func(ev ble.Event) {
		d.post(item{kind: itemPeripheralEvent, token: tok, event: ev})
	})
	d.subs[id] = s
	d.byToken[tok] = s
	d.log.Debug("[SESSION] subscribed", "peripheral", id, "token", tok)

	if d.adapter.ConnectionState(id) == ble.Connected {
		if err := d.adapter.ReadRSSI(id); err != nil {
			d.log.Warn("[SESSION] rssi read on subscribe failed", "peripheral", id, "error", err)
		}
	}
	return tok, true
}

// Cancel tears down the subscription. It reports whether anything was
// cancelled; cancelling an unknown or already cancelled token is a no-op.
func (d *Dispatcher) Cancel(token Token) bool {
	s, ok := d.byToken[token]
	if !ok {
		return false
	}
	delete(d.byToken, token)
	delete(d.subs, s.id)
	s.cancel()
	d.log.Debug("[SESSION] subscription cancelled", "peripheral", s.id, "token", token)
	return true
}

// Live returns the peripheral a token is subscribed for, if still live.
func (d *Dispatcher) Live(token Token) (ble.Identity, bool) {
	s, ok := d.byToken[token]
	if !ok {
		return ble.NilIdentity, false
	}
	return s.id, true
}

// Active returns the live token for id, or zero.
func (d *Dispatcher) Active(id ble.Identity) Token {
	if s, ok := d.subs[id]; ok {
		return s.token
	}
	return 0
}
