package session

import (
	"time"

	"github.com/chaz8081/blecentral/internal/ble"
)

// ReconnectPolicy controls automatic reconnection after a link a user did
// not ask to drop goes away. Only persisted peripherals are reconnected.
type ReconnectPolicy struct {
	Enabled    bool
	MaxBackoff time.Duration
}

// maxBackoffShift keeps 1<<attempt seconds inside time.Duration.
const maxBackoffShift = 30

// backoffDelay returns the reconnection delay for attempt n: 1s, 2s, 4s...
// capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// reconnector tracks per-peripheral attempt counts and owns the backoff
// timers. The first attempt after a drop is immediate.
type reconnector struct {
	policy   ReconnectPolicy
	timers   *debouncer
	attempts map[ble.Identity]int
}

func newReconnector(policy ReconnectPolicy, timers *debouncer) *reconnector {
	return &reconnector{
		policy:   policy,
		timers:   timers,
		attempts: make(map[ble.Identity]int),
	}
}

// next arms the next attempt for id and returns its delay. connect runs
// inside the loop.
func (r *reconnector) next(id ble.Identity, connect func()) time.Duration {
	n := r.attempts[id]
	r.attempts[id] = n + 1
	if n == 0 {
		r.timers.Cancel(id)
		connect()
		return 0
	}
	delay := backoffDelay(n-1, r.policy.MaxBackoff)
	r.timers.Schedule(id, delay, connect)
	return delay
}

// reset forgets id's attempts and cancels any pending attempt.
func (r *reconnector) reset(id ble.Identity) {
	delete(r.attempts, id)
	r.timers.Cancel(id)
}

// Attempts returns how many attempts were made since the last reset.
func (r *reconnector) Attempts(id ble.Identity) int {
	return r.attempts[id]
}
