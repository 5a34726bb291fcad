package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
	"github.com/chaz8081/blecentral/internal/session"
)

var (
	discoveredID = ble.MustParseIdentity("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	connectedID  = ble.MustParseIdentity("9c2f5e10-4d3b-4a6e-8f71-2b8c0d6e3a95")
	missingID    = ble.MustParseIdentity("00000000-0000-4000-8000-000000000001")
)

// fakeController records calls by name.
type fakeController struct {
	snap  *session.Snapshot
	calls []string
}

func newFakeController() *fakeController {
	rssi := -52
	return &fakeController{snap: &session.Snapshot{
		Power:      ble.PowerOn,
		Scanning:   true,
		Discovered: []session.Peripheral{{ID: discoveredID, State: ble.Disconnected, RSSI: &rssi}},
		Connected:  []session.Peripheral{{ID: connectedID, State: ble.Connected}},
	}}
}

func (f *fakeController) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeController) Snapshot() *session.Snapshot {
	return f.snap
}

func (f *fakeController) RequestScan() {
	f.record("RequestScan")
}

func (f *fakeController) StopScan() {
	f.record("StopScan")
}

func (f *fakeController) Connect(id ble.Identity) {
	f.record("Connect %s", id)
}

func (f *fakeController) Disconnect(id ble.Identity) {
	f.record("Disconnect %s", id)
}

func (f *fakeController) RemoveDiscovered(id ble.Identity) {
	f.record("RemoveDiscovered %s", id)
}

func (f *fakeController) RemoveAllDiscovered() {
	f.record("RemoveAllDiscovered")
}

func (f *fakeController) RemoveConnected(id ble.Identity) {
	f.record("RemoveConnected %s", id)
}

func (f *fakeController) ReadRSSI(id ble.Identity) {
	f.record("ReadRSSI %s", id)
}

func (f *fakeController) DiscoverServices(id ble.Identity, filter ...gatt.UUID) {
	f.record("DiscoverServices %s %v", id, filter)
}

func (f *fakeController) DiscoverCharacteristics(id ble.Identity, svc gatt.ServiceRef, filter ...gatt.UUID) {
	f.record("DiscoverCharacteristics %s %s %v", id, svc, filter)
}

func (f *fakeController) DiscoverCharacteristicsAndDescriptors(id ble.Identity, svc gatt.ServiceRef, filter ...gatt.UUID) {
	f.record("DiscoverCharacteristicsAndDescriptors %s %s %v", id, svc, filter)
}

func newTestServer(t *testing.T) (*Server, *fakeController) {
	t.Helper()
	ctl := newFakeController()
	return New(ctl, slog.New(slog.NewTextHandler(io.Discard, nil))), ctl
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestListPeripherals(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/peripherals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Equal(t, "poweredOn", body["power"])
	assert.Equal(t, true, body["scanning"])
	discovered := body["discovered"].([]any)
	require.Len(t, discovered, 1)
	first := discovered[0].(map[string]any)
	assert.Equal(t, discoveredID.String(), first["id"])
	assert.Equal(t, "disconnected", first["state"])
	assert.Equal(t, float64(-52), first["rssi"])
}

func TestGetPeripheral(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/peripherals/"+connectedID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connected", decode(t, rec)["state"])

	rec = do(t, s, http.MethodGet, "/peripherals/"+missingID.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/peripherals/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   string
	}{
		{"request scan", http.MethodPost, "/scan", "RequestScan"},
		{"stop scan", http.MethodDelete, "/scan", "StopScan"},
		{"remove all discovered", http.MethodDelete, "/peripherals/discovered", "RemoveAllDiscovered"},
		{"connect", http.MethodPost, "/peripherals/" + discoveredID.String() + "/connect", "Connect " + discoveredID.String()},
		{"disconnect", http.MethodPost, "/peripherals/" + connectedID.String() + "/disconnect", "Disconnect " + connectedID.String()},
		{"read rssi", http.MethodPost, "/peripherals/" + connectedID.String() + "/rssi", "ReadRSSI " + connectedID.String()},
		{"remove discovered", http.MethodDelete, "/peripherals/" + discoveredID.String(), "RemoveDiscovered " + discoveredID.String()},
		{"remove connected", http.MethodDelete, "/peripherals/" + connectedID.String(), "RemoveConnected " + connectedID.String()},
		{
			"discover services",
			http.MethodPost,
			"/peripherals/" + connectedID.String() + "/services/discover?uuid=180d&uuid=180f",
			fmt.Sprintf("DiscoverServices %s %v", connectedID, []gatt.UUID{gatt.UUID16(0x180d), gatt.UUID16(0x180f)}),
		},
		{
			"discover characteristics",
			http.MethodPost,
			"/peripherals/" + connectedID.String() + "/services/180d/characteristics/discover",
			fmt.Sprintf("DiscoverCharacteristics %s 180d %v", connectedID, []gatt.UUID(nil)),
		},
		{
			"discover characteristics and descriptors",
			http.MethodPost,
			"/peripherals/" + connectedID.String() + "/services/180d/characteristics/discover?descriptors=true",
			fmt.Sprintf("DiscoverCharacteristicsAndDescriptors %s 180d %v", connectedID, []gatt.UUID(nil)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ctl := newTestServer(t)
			rec := do(t, s, tt.method, tt.path)
			assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			assert.Equal(t, []string{tt.want}, ctl.calls)
		})
	}
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"bad identity", http.MethodPost, "/peripherals/xyz/connect", http.StatusBadRequest},
		{"unknown peripheral", http.MethodPost, "/peripherals/" + missingID.String() + "/connect", http.StatusNotFound},
		{"unknown peripheral delete", http.MethodDelete, "/peripherals/" + missingID.String(), http.StatusNotFound},
		{"bad filter", http.MethodPost, "/peripherals/" + connectedID.String() + "/services/discover?uuid=zz", http.StatusBadRequest},
		{"bad service", http.MethodPost, "/peripherals/" + connectedID.String() + "/services/nope/characteristics/discover", http.StatusBadRequest},
		{"bad descriptors flag", http.MethodPost, "/peripherals/" + connectedID.String() + "/services/180d/characteristics/discover?descriptors=maybe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ctl := newTestServer(t)
			rec := do(t, s, tt.method, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, ctl.calls)
			assert.Equal(t, float64(tt.status), decode(t, rec)["code"])
		})
	}
}

func TestNotices(t *testing.T) {
	s, _ := newTestServer(t)
	s.Record(session.Notice{Kind: session.NoticeDisconnected, ID: connectedID, Err: errors.New("link lost")})
	s.Record(session.Notice{Kind: session.NoticeChainCompleted, ID: connectedID, Service: gatt.ServiceRef{Service: gatt.UUID16(0x180d)}})

	rec := do(t, s, http.MethodGet, "/notices")
	require.Equal(t, http.StatusOK, rec.Code)
	notices := decode(t, rec)["notices"].([]any)
	require.Len(t, notices, 2)

	first := notices[0].(map[string]any)
	assert.Equal(t, "disconnected", first["kind"])
	assert.Equal(t, "link lost", first["error"])
	assert.NotContains(t, first, "service")

	second := notices[1].(map[string]any)
	assert.Equal(t, "chainCompleted", second["kind"])
	assert.Equal(t, gatt.UUID16(0x180d).String(), second["service"])
}

func TestNoticesKeepsRecent(t *testing.T) {
	s, _ := newTestServer(t)
	for i := 0; i < recentNotices+10; i++ {
		s.Record(session.Notice{Kind: session.NoticeOperationFailed, Err: fmt.Errorf("failure %d", i)})
	}

	notices := decode(t, do(t, s, http.MethodGet, "/notices"))["notices"].([]any)
	require.Len(t, notices, recentNotices)
	last := notices[len(notices)-1].(map[string]any)
	assert.True(t, strings.HasSuffix(last["error"].(string), fmt.Sprint(recentNotices+9)))
}
