package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/bletest"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

func peripheral(t *testing.T, h *harness, id ble.Identity) Peripheral {
	t.Helper()
	p, ok := h.snap().Peripheral(id)
	require.True(t, ok, "peripheral %s not in snapshot", id)
	return p
}

// knownServices connects p1 and completes service discovery against svcs.
func knownServices(t *testing.T, svcs []gatt.Service) *harness {
	t.Helper()
	h := newHarness(t, ble.PowerOn, nil)
	h.connect(p1)
	h.adapter.SetServices(p1, svcs)
	h.s.DiscoverServices(p1)
	h.run()
	h.adapter.Emit(ble.ServicesDiscovered{ID: p1})
	h.run()
	h.notices()
	h.adapter.ResetCalls()
	return h
}

func TestNameSurvivesConnection(t *testing.T) {
	h := newHarness(t, ble.PowerOn, nil)
	h.connect(p1)

	p := peripheral(t, h, p1)
	assert.Equal(t, "dev", p.Name)
	assert.Nil(t, p.Advertisement)

	h.adapter.Emit(ble.NameUpdated{ID: p1, Name: "renamed"})
	h.run()
	assert.Equal(t, "renamed", peripheral(t, h, p1).Name)
}

func TestDiscoverServicesReplacesTree(t *testing.T) {
	h := newHarness(t, ble.PowerOn, nil)
	h.connect(p1)
	h.adapter.SetServices(p1, heartRateServices())

	h.s.DiscoverServices(p1, heartRate)
	h.run()
	calls := h.adapter.CallsTo(bletest.OpDiscoverServices)
	require.Len(t, calls, 1)
	assert.Equal(t, []gatt.UUID{heartRate}, calls[0].Filter)
	assert.Equal(t, PhaseDiscovering, peripheral(t, h, p1).Discovery.Services)
	assert.Nil(t, peripheral(t, h, p1).GATT.Services)

	h.adapter.Emit(ble.ServicesDiscovered{ID: p1})
	h.run()
	p := peripheral(t, h, p1)
	assert.Equal(t, PhaseKnown, p.Discovery.Services)
	assert.Equal(t, heartRateServices(), p.GATT.Services)

	h.adapter.SetServices(p1, heartRateServices()[1:])
	h.s.DiscoverServices(p1)
	h.run()
	h.adapter.Emit(ble.ServicesDiscovered{ID: p1})
	h.run()
	assert.Equal(t, heartRateServices()[1:], peripheral(t, h, p1).GATT.Services, "snapshot wins over merge")
}

func TestDiscoverServicesEmptyIsKnown(t *testing.T) {
	h := knownServices(t, nil)
	p := peripheral(t, h, p1)
	assert.NotNil(t, p.GATT.Services)
	assert.Empty(t, p.GATT.Services)
	assert.True(t, p.GATT.Known())
}

func TestDiscoverServicesErrorLeavesTree(t *testing.T) {
	h := knownServices(t, heartRateServices())
	boom := errors.New("att error")

	h.adapter.SetServices(p1, []gatt.Service{{UUID: battery}})
	h.s.DiscoverServices(p1)
	h.run()
	h.adapter.Emit(ble.ServicesDiscovered{ID: p1, Err: boom})
	h.run()

	p := peripheral(t, h, p1)
	assert.Equal(t, heartRateServices(), p.GATT.Services)
	assert.Equal(t, PhaseKnown, p.Discovery.Services, "prior phase restored")

	notices := h.notices()
	require.Len(t, notices, 1)
	oe := opErr(t, notices[0])
	assert.Equal(t, OpDiscoverServices, oe.Op)
	assert.Equal(t, p1, oe.ID)
	assert.ErrorIs(t, notices[0].Err, boom)
}

func TestDiscoverServicesFirstErrorStaysUnknown(t *testing.T) {
	h := newHarness(t, ble.PowerOn, nil)
	h.connect(p1)
	h.s.DiscoverServices(p1)
	h.run()
	h.adapter.Emit(ble.ServicesDiscovered{ID: p1, Err: errors.New("nope")})
	h.run()

	p := peripheral(t, h, p1)
	assert.Equal(t, PhaseUnknown, p.Discovery.Services)
	assert.Nil(t, p.GATT.Services)
}

func TestDiscoverServicesOverlappingSuccessThenError(t *testing.T) {
	h := newHarness(t, ble.PowerOn, nil)
	h.connect(p1)
	h.adapter.SetServices(p1, heartRateServices())
	h.s.DiscoverServices(p1)
	h.s.DiscoverServices(p1)
	h.run()
	require.Len(t, h.adapter.CallsTo(bletest.OpDiscoverServices), 2)

	h.adapter.Emit(ble.ServicesDiscovered{ID: p1})
	h.run()
	h.adapter.Emit(ble.ServicesDiscovered{ID: p1, Err: errors.New("late failure")})
	h.run()

	p := peripheral(t, h, p1)
	assert.Equal(t, PhaseKnown, p.Discovery.Services)
	assert.Equal(t, heartRateServices(), p.GATT.Services)
}

func TestDiscoverServicesSynchronousFailure(t *testing.T) {
	h := newHarness(t, ble.PowerOn, nil)
	h.connect(p1)
	h.adapter.FailNext(bletest.OpDiscoverServices, errors.New("busy"))
	h.s.DiscoverServices(p1)
	h.run()

	assert.Equal(t, PhaseUnknown, peripheral(t, h, p1).Discovery.Services)
	notices := h.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, OpDiscoverServices, opErr(t, notices[0]).Op)
}

func TestDiscoverServicesRequiresConnection(t *testing.T) {
	h := newHarness(t, ble.PowerOn, nil)
	h.advertise(p1, "hr", -50)

	h.s.DiscoverServices(p1)
	h.s.DiscoverServices(p2)
	h.run()

	assert.Empty(t, h.adapter.CallsTo(bletest.OpDiscoverServices))
	notices := h.notices()
	require.Len(t, notices, 2)
	assert.ErrorIs(t, notices[0].Err, ErrNotConnected)
	assert.ErrorIs(t, notices[1].Err, ErrUnknownPeripheral)
}

func TestAutoChainIssuesDescriptorDiscoveryPerCharacteristic(t *testing.T) {
	h := knownServices(t, []gatt.Service{{UUID: heartRate, IsPrimary: true}})
	h.adapter.SetServices(p1, heartRateServices())

	h.s.DiscoverCharacteristicsAndDescriptors(p1, hrService)
	h.run()
	require.Len(t, h.adapter.CallsTo(bletest.OpDiscoverCharacteristics), 1)
	assert.Empty(t, h.adapter.CallsTo(bletest.OpDiscoverDescriptors))
	assert.Equal(t, []gatt.ServiceRef{hrService}, peripheral(t, h, p1).Discovery.Chains)

	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: hrService})
	h.run()
	descCalls := h.adapter.CallsTo(bletest.OpDiscoverDescriptors)
	require.Len(t, descCalls, 2)
	assert.Equal(t, hrMeasureCh, descCalls[0].Characteristic)
	assert.Equal(t, bodySensCh, descCalls[1].Characteristic)
	assert.Len(t, h.adapter.CallsTo(bletest.OpDiscoverCharacteristics), 1)

	p := peripheral(t, h, p1)
	assert.Len(t, p.GATT.Service(hrService).Characteristics, 2)
	assert.Equal(t, PhaseKnown, p.Discovery.Characteristics[hrService])
	assert.Equal(t, PhaseDiscovering, p.Discovery.Descriptors[hrMeasureCh])

	h.adapter.SetServices(p1, withDescriptors(heartRateServices()))
	h.adapter.Emit(ble.DescriptorsDiscovered{ID: p1, Characteristic: hrMeasureCh})
	h.run()
	p = peripheral(t, h, p1)
	assert.Len(t, p.GATT.Characteristic(hrMeasureCh).Descriptors, 1)
	assert.Nil(t, p.GATT.Characteristic(bodySensCh).Descriptors)
	assert.Equal(t, []gatt.ServiceRef{hrService}, p.Discovery.Chains, "one characteristic still pending")
	assert.Empty(t, h.notices())

	h.adapter.Emit(ble.DescriptorsDiscovered{ID: p1, Characteristic: bodySensCh})
	h.run()
	p = peripheral(t, h, p1)
	assert.Empty(t, p.Discovery.Chains)
	assert.Equal(t, PhaseKnown, p.Discovery.Descriptors[bodySensCh])

	notices := h.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeChainCompleted, notices[0].Kind)
	assert.Equal(t, hrService, notices[0].Service)
	assert.Len(t, h.adapter.CallsTo(bletest.OpDiscoverDescriptors), 2)
}

func TestAutoChainCompletesDespiteDescriptorFailure(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.DiscoverCharacteristicsAndDescriptors(p1, hrService)
	h.run()
	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: hrService})
	h.run()

	h.adapter.Emit(ble.DescriptorsDiscovered{ID: p1, Characteristic: hrMeasureCh, Err: errors.New("timeout")})
	h.adapter.Emit(ble.DescriptorsDiscovered{ID: p1, Characteristic: bodySensCh})
	h.run()

	notices := h.notices()
	require.Len(t, notices, 2)
	assert.Equal(t, OpDiscoverDescriptors, opErr(t, notices[0]).Op)
	assert.Equal(t, NoticeChainCompleted, notices[1].Kind)

	p := peripheral(t, h, p1)
	assert.Equal(t, PhaseUnknown, p.Discovery.Descriptors[hrMeasureCh])
	assert.Nil(t, p.GATT.Characteristic(hrMeasureCh).Descriptors)
}

func TestAutoChainAbortsOnCharacteristicError(t *testing.T) {
	h := knownServices(t, []gatt.Service{{UUID: heartRate}})
	h.s.DiscoverCharacteristicsAndDescriptors(p1, hrService)
	h.run()
	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: hrService, Err: errors.New("gone")})
	h.run()

	assert.Empty(t, h.adapter.CallsTo(bletest.OpDiscoverDescriptors))
	p := peripheral(t, h, p1)
	assert.Empty(t, p.Discovery.Chains)
	assert.Equal(t, PhaseUnknown, p.Discovery.Characteristics[hrService])
	assert.Nil(t, p.GATT.Service(hrService).Characteristics)
}

func TestDiscoverCharacteristicsOverlappingSuccessThenError(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.DiscoverCharacteristics(p1, hrService)
	h.s.DiscoverCharacteristics(p1, hrService)
	h.run()
	require.Len(t, h.adapter.CallsTo(bletest.OpDiscoverCharacteristics), 2)

	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: hrService})
	h.run()
	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: hrService, Err: errors.New("late failure")})
	h.run()

	p := peripheral(t, h, p1)
	assert.Equal(t, PhaseKnown, p.Discovery.Characteristics[hrService])
	assert.Len(t, p.GATT.Service(hrService).Characteristics, 2)
}

func TestDiscoveryStatusJSONKeys(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.DiscoverCharacteristics(p1, hrService)
	h.run()
	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: hrService})
	h.run()

	b, err := json.Marshal(peripheral(t, h, p1).Discovery)
	require.NoError(t, err)
	var out struct {
		Characteristics map[string]string `json:"characteristics"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Contains(t, out.Characteristics, heartRate.String())
}

func TestAutoChainWithNoCharacteristicsCompletesImmediately(t *testing.T) {
	h := knownServices(t, []gatt.Service{{UUID: battery}})
	h.s.DiscoverCharacteristicsAndDescriptors(p1, gatt.ServiceRef{Service: battery})
	h.run()
	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: gatt.ServiceRef{Service: battery}})
	h.run()

	notices := h.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeChainCompleted, notices[0].Kind)
	assert.NotNil(t, peripheral(t, h, p1).GATT.Services[0].Characteristics)
}

func TestOnDemandCharacteristicsDoNotChain(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.DiscoverCharacteristics(p1, hrService, hrMeasure)
	h.run()
	calls := h.adapter.CallsTo(bletest.OpDiscoverCharacteristics)
	require.Len(t, calls, 1)
	assert.Equal(t, []gatt.UUID{hrMeasure}, calls[0].Filter)

	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: hrService})
	h.run()
	assert.Empty(t, h.adapter.CallsTo(bletest.OpDiscoverDescriptors))
	assert.Empty(t, h.notices())
}

func TestDiscoverOnUnknownServiceFails(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.DiscoverCharacteristics(p1, gatt.ServiceRef{Service: gatt.UUID16(0x1234)})
	h.s.DiscoverDescriptors(p1, gatt.CharacteristicRef{Service: heartRate, Characteristic: gatt.UUID16(0x9999)})
	h.run()

	assert.Empty(t, h.adapter.Calls())
	notices := h.notices()
	require.Len(t, notices, 2)
	assert.ErrorIs(t, notices[0].Err, ErrUnknownAttribute)
	assert.ErrorIs(t, notices[1].Err, ErrUnknownAttribute)
}

func TestOnDemandDescriptors(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.DiscoverDescriptors(p1, hrMeasureCh)
	h.run()
	require.Len(t, h.adapter.CallsTo(bletest.OpDiscoverDescriptors), 1)

	h.adapter.SetServices(p1, withDescriptors(heartRateServices()))
	h.adapter.Emit(ble.DescriptorsDiscovered{ID: p1, Characteristic: hrMeasureCh})
	h.run()
	d := peripheral(t, h, p1).GATT.Characteristic(hrMeasureCh).Descriptors
	require.Len(t, d, 1)
	assert.Equal(t, gatt.DescriptorClientConfig, d[0].Value.Kind)
	assert.Empty(t, h.notices())
}

func TestIncludedServicesReplacedUnderService(t *testing.T) {
	h := knownServices(t, heartRateServices())
	snap := heartRateServices()
	snap[0].IncludedServices = []gatt.Service{{UUID: battery}}
	h.adapter.SetServices(p1, snap)

	h.s.DiscoverIncludedServices(p1, hrService)
	h.run()
	require.Len(t, h.adapter.CallsTo(bletest.OpDiscoverIncludedServices), 1)
	h.adapter.Emit(ble.IncludedServicesDiscovered{ID: p1, Service: hrService})
	h.run()

	p := peripheral(t, h, p1)
	assert.Equal(t, []gatt.Service{{UUID: battery}}, p.GATT.Service(hrService).IncludedServices)
	assert.Equal(t, PhaseKnown, p.Discovery.IncludedServices[hrService])
	assert.Nil(t, p.GATT.Service(gatt.ServiceRef{Service: battery}).IncludedServices)
}

func TestCompletionForMissingServiceIsIgnored(t *testing.T) {
	h := knownServices(t, heartRateServices())
	before := peripheral(t, h, p1).GATT

	h.adapter.Emit(ble.CharacteristicsDiscovered{ID: p1, Service: gatt.ServiceRef{Service: gatt.UUID16(0xfeed)}})
	h.adapter.Emit(ble.DescriptorsDiscovered{ID: p1, Characteristic: gatt.CharacteristicRef{Service: battery, Characteristic: batteryLvl}})
	h.run()

	assert.Equal(t, before, peripheral(t, h, p1).GATT)
	assert.Empty(t, h.notices())
}

func TestMismatchedIdentityIsDropped(t *testing.T) {
	h := knownServices(t, heartRateServices())
	rec := h.s.reg.Get(p1)
	before := *peripheral(t, h, p1).RSSI

	h.s.d.post(item{kind: itemPeripheralEvent, token: rec.token, event: ble.RSSIRead{ID: p2, RSSI: -1}})
	h.run()
	assert.Equal(t, before, *peripheral(t, h, p1).RSSI)
}

func TestEventAfterRemovalNeverReachesNewRecord(t *testing.T) {
	h := newHarness(t, ble.PowerOn, nil)
	h.connect(p1)

	h.adapter.Emit(ble.RSSIRead{ID: p1, RSSI: -10}) // queued under the old token
	h.s.reg.RemoveConnected(p1)
	h.s.reg.PromoteToConnected(p1)
	h.run()

	assert.Nil(t, peripheral(t, h, p1).RSSI)
}

func TestValueUpdates(t *testing.T) {
	h := knownServices(t, withDescriptors(heartRateServices()))
	cccd := gatt.DescriptorRef{Service: heartRate, Characteristic: hrMeasure, Descriptor: gatt.ClientCharacteristicConfigUUID}

	h.adapter.Emit(ble.ValueUpdated{ID: p1, Target: hrMeasureCh, Value: []byte{0x06, 0x48}})
	h.adapter.Emit(ble.ValueUpdated{ID: p1, Target: cccd, Value: []byte{0x01, 0x00}})
	h.adapter.Emit(ble.NotificationStateChanged{ID: p1, Characteristic: hrMeasureCh, Enabled: true})
	h.adapter.Emit(ble.RSSIRead{ID: p1, RSSI: -33})
	h.run()

	p := peripheral(t, h, p1)
	c := p.GATT.Characteristic(hrMeasureCh)
	assert.Equal(t, []byte{0x06, 0x48}, c.Value)
	assert.True(t, c.IsNotifying)
	d := p.GATT.Descriptor(cccd)
	require.NotNil(t, d.Value.Number)
	assert.Equal(t, uint16(1), *d.Value.Number)
	assert.Equal(t, -33, *p.RSSI)
}

func TestValueErrorsAreReported(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.adapter.Emit(ble.ValueUpdated{ID: p1, Target: bodySensCh, Err: errors.New("read not permitted")})
	h.adapter.Emit(ble.ValueWritten{ID: p1, Target: bodySensCh, Err: errors.New("write not permitted")})
	h.adapter.Emit(ble.NotificationStateChanged{ID: p1, Characteristic: hrMeasureCh, Err: errors.New("no cccd")})
	h.adapter.Emit(ble.RSSIRead{ID: p1, Err: errors.New("busy")})
	h.run()

	var ops []Op
	for _, n := range h.notices() {
		ops = append(ops, opErr(t, n).Op)
	}
	assert.Equal(t, []Op{OpReadValue, OpWriteValue, OpSetNotify, OpReadRSSI}, ops)
	assert.Nil(t, peripheral(t, h, p1).GATT.Characteristic(bodySensCh).Value)
}

func TestReadWriteNotifyCommands(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.ReadValue(p1, bodySensCh)
	h.s.WriteValue(p1, bodySensCh, []byte{0x01}, ble.WithoutResponse)
	h.s.SetNotify(p1, hrMeasureCh, true)
	h.s.ReadRSSI(p1)
	h.s.ReadValue(p1, gatt.CharacteristicRef{Service: battery, Characteristic: batteryLvl})
	h.run()

	require.Len(t, h.adapter.CallsTo(bletest.OpReadValue), 1)
	w := h.adapter.CallsTo(bletest.OpWriteValue)
	require.Len(t, w, 1)
	assert.Equal(t, []byte{0x01}, w[0].Data)
	assert.Equal(t, ble.WithoutResponse, w[0].Mode)
	n := h.adapter.CallsTo(bletest.OpSetNotify)
	require.Len(t, n, 1)
	assert.True(t, n[0].Enabled)
	assert.Len(t, h.adapter.CallsTo(bletest.OpReadRSSI), 1)

	notices := h.notices()
	require.Len(t, notices, 1)
	assert.ErrorIs(t, notices[0].Err, ErrUnknownAttribute)
}

func TestServicesModifiedDropsInvalidated(t *testing.T) {
	h := knownServices(t, heartRateServices())
	h.s.DiscoverCharacteristics(p1, hrService)
	h.run()

	h.adapter.Emit(ble.ServicesModified{ID: p1, Invalidated: []gatt.UUID{heartRate}})
	h.run()

	p := peripheral(t, h, p1)
	require.Len(t, p.GATT.Services, 1)
	assert.Equal(t, battery, p.GATT.Services[0].UUID)
	assert.NotContains(t, p.Discovery.Characteristics, hrService)
}
