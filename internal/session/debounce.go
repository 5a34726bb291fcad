package session

import (
	"time"

	"github.com/chaz8081/blecentral/internal/ble"
)

type pendingTimer struct {
	gen   uint64
	timer Timer
}

// debouncer keeps at most one live timer per identity. Firing is delivered
// through the dispatcher queue, and a firing whose generation was
// superseded by a later Schedule or Cancel is dropped, so a timer that
// raced its own Stop never runs.
type debouncer struct {
	clock Clock
	post  func(func())
	gen   uint64
	live  map[ble.Identity]pendingTimer
}

func newDebouncer(clock Clock, post func(func())) *debouncer {
	return &debouncer{
		clock: clock,
		post:  post,
		live:  make(map[ble.Identity]pendingTimer),
	}
}

// Schedule (re)arms the timer for id. Any earlier timer for id is discarded.
func (b *debouncer) Schedule(id ble.Identity, after time.Duration, fire func()) {
	b.Cancel(id)
	b.gen++
	gen := b.gen
	t := b.clock.AfterFunc(after, func() {
		b.post(func() {
			cur, ok := b.live[id]
			if !ok || cur.gen != gen {
				return
			}
			delete(b.live, id)
			fire()
		})
	})
	b.live[id] = pendingTimer{gen: gen, timer: t}
}

// Cancel stops the timer for id. It reports whether one was pending.
func (b *debouncer) Cancel(id ble.Identity) bool {
	p, ok := b.live[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(b.live, id)
	return true
}

// CancelAll stops every pending timer.
func (b *debouncer) CancelAll() {
	for id, p := range b.live {
		p.timer.Stop()
		delete(b.live, id)
	}
}

// Pending reports whether a timer is armed for id.
func (b *debouncer) Pending(id ble.Identity) bool {
	_, ok := b.live[id]
	return ok
}
