package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ozonworks/outlet-telemetry-worker/internal/httpapi"
	"github.com/ozonworks/outlet-telemetry-worker/internal/metrics"
	"github.com/ozonworks/outlet-telemetry-worker/internal/repository"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
)

// recordingPublisher captures published commands instead of touching a broker
type recordingPublisher struct {
	mu       sync.Mutex
	commands []publishedCommand
}

type publishedCommand struct {
	DeviceID string
	Command  map[string]interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, deviceID string, command map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, publishedCommand{DeviceID: deviceID, Command: command})
	return nil
}

type apiFixture struct {
	router    http.Handler
	publisher *recordingPublisher
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := zap.NewNop()
	loc := time.FixedZone("site", 3*3600)

	statusRepo := repository.NewMemStatusRepo()
	ledgerRepo := repository.NewMemLedgerRepo()
	usageRepo := repository.NewMemUsageRepo()
	assignmentRepo := repository.NewMemAssignmentRepo()

	register := service.NewStatusRegister(statusRepo, ledgerRepo, logger)
	aggregator := service.NewUsageAggregator(ledgerRepo, usageRepo, loc, logger)
	ingest := service.NewIngestService(register, ledgerRepo, aggregator, loc, logger)
	assignments := service.NewAssignmentService(assignmentRepo, logger)

	m := metrics.New()
	publisher := &recordingPublisher{}

	router := httpapi.NewRouter(
		httpapi.NewIngestHandler(ingest, m, logger),
		httpapi.NewDeviceHandler(register, assignments, publisher, logger),
		httpapi.NewTelemetryHandler(ingest, aggregator, loc, logger),
		httpapi.NewAssignmentHandler(assignments, logger),
		m,
	)

	return &apiFixture{router: router, publisher: publisher}
}

func (f *apiFixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) postJSON(t *testing.T, target string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return f.do(t, http.MethodPost, target, bytes.NewReader(body), "application/json")
}

func (f *apiFixture) pushReport(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/iot/ingest", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPushIngestsUsageReport(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.pushReport(t, url.Values{
		"mode":    {"BASIC"},
		"macaddr": {"AA:BB:CC:DD:EE:01"},
		"count1":  {"5"},
		"ts":      {"2024-01-15 10:00:00"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status        string `json:"status"`
		DeviceID      string `json:"device_id"`
		Kind          string `json:"kind"`
		EventID       int64  `json:"event_id"`
		UsageRecorded bool   `json:"usage_recorded"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", resp.DeviceID)
	assert.Equal(t, "BASIC", resp.Kind)
	assert.NotZero(t, resp.EventID)
	assert.True(t, resp.UsageRecorded)

	rec = f.do(t, http.MethodGet, "/api/v1/devices/AA:BB:CC:DD:EE:01", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		LedgerCounts map[string]int64 `json:"ledger_counts"`
	}
	decodeBody(t, rec, &detail)
	assert.Equal(t, int64(1), detail.LedgerCounts["BASIC"])
}

func TestPushRequiresMacaddr(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.pushReport(t, url.Values{"mode": {"BASIC"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushUnknownModeDegradesToHeartbeat(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.pushReport(t, url.Values{
		"mode":    {"deluxe"},
		"macaddr": {"AA:BB:CC:DD:EE:01"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Kind    string `json:"kind"`
		EventID int64  `json:"event_id"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "HEARTBEAT", resp.Kind)
	assert.Zero(t, resp.EventID)
}

func TestGetUnknownDevice(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/devices/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpointValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/events?kind=deluxe", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/events?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/events?from=15-01-2024", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsEndpointFilters(t *testing.T) {
	f := newAPIFixture(t)

	for _, ts := range []string{"2024-01-15 10:00:00", "2024-01-16 10:00:00"} {
		rec := f.pushReport(t, url.Values{
			"mode":    {"BASIC"},
			"macaddr": {"AA:BB:CC:DD:EE:01"},
			"ts":      {ts},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/events?device_id=AA:BB:CC:DD:EE:01&from=2024-01-15&to=2024-01-15", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []json.RawMessage
	decodeBody(t, rec, &events)
	assert.Len(t, events, 1, "inclusive single-day window")
}

func TestUsageEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/usage", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "device_id is required")

	for _, ts := range []string{"2024-01-15 10:00:00", "2024-01-15 10:05:00"} {
		push := f.pushReport(t, url.Values{
			"mode":    {"BASIC"},
			"macaddr": {"AA:BB:CC:DD:EE:01"},
			"ts":      {ts},
		})
		require.Equal(t, http.StatusOK, push.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/usage?device_id=AA:BB:CC:DD:EE:01&from=2024-01-15&to=2024-01-15", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []struct {
		BasicCount  int64 `json:"basic_count"`
		TotalEvents int64 `json:"total_events"`
	}
	decodeBody(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].BasicCount)
	assert.Equal(t, int64(2), rows[0].TotalEvents)
}

func TestRebuildUsageEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	push := f.pushReport(t, url.Values{
		"mode":    {"PREMIUM"},
		"macaddr": {"AA:BB:CC:DD:EE:01"},
		"ts":      {"2024-01-15 10:00:00"},
	})
	require.Equal(t, http.StatusOK, push.Code)

	rec := f.postJSON(t, "/api/v1/usage/rebuild", map[string]string{
		"device_id": "AA:BB:CC:DD:EE:01",
		"date":      "2024-01-15",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.postJSON(t, "/api/v1/usage/rebuild", map[string]string{"device_id": "AA:BB:CC:DD:EE:01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "date or from+to is required")
}

func TestResetRequiresConfirmation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.postJSON(t, "/api/v1/reset", map[string]string{"confirm": "yes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.postJSON(t, "/api/v1/reset", map[string]string{"confirm": "ERASE"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommandEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.postJSON(t, "/api/v1/devices/AA:BB:CC:DD:EE:01/command", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty command is rejected")

	rec = f.postJSON(t, "/api/v1/devices/AA:BB:CC:DD:EE:01/command", map[string]interface{}{
		"command": "update_device_counts",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.publisher.commands, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", f.publisher.commands[0].DeviceID)
	assert.Equal(t, "update_device_counts", f.publisher.commands[0].Command["command"])
}

func TestAssignmentLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.postJSON(t, "/api/v1/outlets", map[string]string{"name": "Main Street"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var outlet struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &outlet)
	require.NotEmpty(t, outlet.ID)

	rec = f.postJSON(t, "/api/v1/machines", map[string]string{
		"outlet_id": outlet.ID,
		"name":      "Unit 1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var machine struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &machine)

	rec = f.postJSON(t, "/api/v1/machines/"+machine.ID+"/assign", map[string]string{
		"device_id": "AA:BB:CC:DD:EE:01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var assignment struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &assignment)

	// The pair already exists, so a second assign conflicts
	rec = f.postJSON(t, "/api/v1/machines/"+machine.ID+"/assign", map[string]string{
		"device_id": "AA:BB:CC:DD:EE:01",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.postJSON(t, "/api/v1/machines/"+machine.ID+"/reassign", map[string]string{
		"device_id": "AA:BB:CC:DD:EE:02",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The machine is occupied now, so a plain assign conflicts
	rec = f.postJSON(t, "/api/v1/machines/"+machine.ID+"/assign", map[string]string{
		"device_id": "AA:BB:CC:DD:EE:03",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/machines/"+machine.ID+"/assignments", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []json.RawMessage
	decodeBody(t, rec, &history)
	assert.Len(t, history, 2)

	rec = f.postJSON(t, "/api/v1/assignments/"+assignment.ID+"/deactivate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "already deactivated by the reassign")

	rec = f.do(t, http.MethodGet, "/api/v1/machines", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var machines []struct {
		CurrentDevice *string `json:"current_device"`
	}
	decodeBody(t, rec, &machines)
	require.Len(t, machines, 1)
	require.NotNil(t, machines[0].CurrentDevice)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", *machines[0].CurrentDevice)

	rec = f.postJSON(t, "/api/v1/machines/not-a-uuid/assign", map[string]string{"device_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
