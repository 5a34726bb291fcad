package session

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/bletest"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
	"github.com/chaz8081/blecentral/internal/store"
)

var (
	p1 = ble.MustParseIdentity("11111111-1111-1111-1111-111111111111")
	p2 = ble.MustParseIdentity("22222222-2222-2222-2222-222222222222")

	heartRate   = gatt.UUID16(0x180d)
	hrMeasure   = gatt.UUID16(0x2a37)
	bodySensor  = gatt.UUID16(0x2a38)
	battery     = gatt.UUID16(0x180f)
	batteryLvl  = gatt.UUID16(0x2a19)
	hrService   = gatt.ServiceRef{Service: heartRate}
	hrMeasureCh = gatt.CharacteristicRef{Service: heartRate, Characteristic: hrMeasure}
	bodySensCh  = gatt.CharacteristicRef{Service: heartRate, Characteristic: bodySensor}
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves time forward and runs every timer that became due, in
// deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Live returns the number of timers neither stopped nor fired.
func (c *fakeClock) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	s       *Session
	adapter *bletest.Adapter
	clock   *fakeClock
	store   *store.Memory
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, power ble.PowerState, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		adapter: bletest.NewAdapter(power),
		clock:   &fakeClock{},
		store:   store.NewMemory(),
	}
	opts := DefaultOptions()
	opts.Clock = h.clock
	opts.Logger = quietLogger()
	if mutate != nil {
		mutate(&opts)
	}
	h.s = New(h.adapter, h.store, opts)
	require.NoError(t, h.s.start())
	return h
}

// run drains the loop.
func (h *harness) run() { h.s.drain() }

func (h *harness) snap() *Snapshot { return h.s.Snapshot() }

func (h *harness) discoveredIDs() []ble.Identity {
	var ids []ble.Identity
	for _, p := range h.snap().Discovered {
		ids = append(ids, p.ID)
	}
	return ids
}

func (h *harness) connectedIDs() []ble.Identity {
	var ids []ble.Identity
	for _, p := range h.snap().Connected {
		ids = append(ids, p.ID)
	}
	return ids
}

func (h *harness) notices() []Notice {
	var out []Notice
	for {
		select {
		case n := <-h.s.Notices():
			out = append(out, n)
		default:
			return out
		}
	}
}

func (h *harness) advertise(id ble.Identity, name string, rssi int) {
	h.adapter.SimulateDiscovered(id, ble.Advertisement{LocalName: name}, rssi)
	h.run()
}

// connect drives id through discovery and a successful connection.
func (h *harness) connect(id ble.Identity) {
	h.t.Helper()
	h.advertise(id, "dev", -50)
	h.s.Connect(id)
	h.run()
	h.adapter.SimulateConnect(id)
	h.run()
	require.Contains(h.t, h.connectedIDs(), id)
}

func heartRateServices() []gatt.Service {
	return []gatt.Service{
		{
			UUID:      heartRate,
			IsPrimary: true,
			Characteristics: []gatt.Characteristic{
				{UUID: hrMeasure, Properties: gatt.PropNotify},
				{UUID: bodySensor, Properties: gatt.PropRead},
			},
		},
		{UUID: battery, IsPrimary: true},
	}
}

func withDescriptors(svcs []gatt.Service) []gatt.Service {
	out := gatt.CloneServices(svcs)
	cccd := gatt.ClientCharacteristicConfigUUID
	for i := range out[0].Characteristics {
		out[0].Characteristics[i].Descriptors = []gatt.Descriptor{
			{UUID: cccd, Value: gatt.DecodeDescriptor(cccd, []byte{0, 0})},
		}
	}
	return out
}

func opErr(t *testing.T, n Notice) *OperationError {
	t.Helper()
	require.Equal(t, NoticeOperationFailed, n.Kind)
	oe, ok := n.Err.(*OperationError)
	require.True(t, ok, "notice error %T is not *OperationError", n.Err)
	return oe
}
