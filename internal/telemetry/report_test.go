package telemetry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		mode  string
		want  telemetry.ReportKind
		known bool
	}{
		{"BASIC", telemetry.KindBasic, true},
		{"basic", telemetry.KindBasic, true},
		{" Standard ", telemetry.KindStandard, true},
		{"PREMIUM", telemetry.KindPremium, true},
		{"status", telemetry.KindHeartbeat, true},
		{"HEARTBEAT", telemetry.KindHeartbeat, true},
		{"", telemetry.KindHeartbeat, true},
		{"deluxe", telemetry.KindHeartbeat, false},
	}
	for _, tc := range tests {
		kind, known := telemetry.ParseKind(tc.mode)
		assert.Equal(t, tc.want, kind, "mode %q", tc.mode)
		assert.Equal(t, tc.known, known, "mode %q", tc.mode)
	}
}

func TestIsUsage(t *testing.T) {
	assert.True(t, telemetry.KindBasic.IsUsage())
	assert.True(t, telemetry.KindStandard.IsUsage())
	assert.True(t, telemetry.KindPremium.IsUsage())
	assert.False(t, telemetry.KindHeartbeat.IsUsage())
}

func TestCoerceCount(t *testing.T) {
	assert.Nil(t, telemetry.CoerceCount(""))
	assert.Nil(t, telemetry.CoerceCount("  "))
	assert.Nil(t, telemetry.CoerceCount("abc"))

	v := telemetry.CoerceCount("42")
	require.NotNil(t, v)
	assert.Equal(t, int64(42), *v)

	v = telemetry.CoerceCount(" 7 ")
	require.NotNil(t, v)
	assert.Equal(t, int64(7), *v)

	// Fractional counts truncate
	v = telemetry.CoerceCount("12.9")
	require.NotNil(t, v)
	assert.Equal(t, int64(12), *v)

	v = telemetry.CoerceCount("-3")
	require.NotNil(t, v)
	assert.Equal(t, int64(-3), *v)
}

func TestResolveOccurredAtPrefersDeviceClock(t *testing.T) {
	loc := time.FixedZone("site", 3*3600)
	received := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	report := telemetry.DeviceReport{
		DeviceID:        "AA:BB:CC:DD:EE:01",
		DeviceTimestamp: "2024-01-15 10:00:00",
		ReceivedAt:      received,
	}
	occurred, fromDevice := telemetry.ResolveOccurredAt(report, loc)
	assert.True(t, fromDevice)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, loc), occurred)
}

func TestResolveOccurredAtFallsBackToReceipt(t *testing.T) {
	received := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	report := telemetry.DeviceReport{
		DeviceID:        "AA:BB:CC:DD:EE:01",
		DeviceTimestamp: "not-a-time",
		ReceivedAt:      received,
	}
	occurred, fromDevice := telemetry.ResolveOccurredAt(report, time.UTC)
	assert.False(t, fromDevice)
	assert.True(t, occurred.Equal(received))

	report.DeviceTimestamp = ""
	occurred, fromDevice = telemetry.ResolveOccurredAt(report, time.UTC)
	assert.False(t, fromDevice)
	assert.True(t, occurred.Equal(received))
}

func TestPatchFromReportForcesWifiConnected(t *testing.T) {
	f := false
	report := telemetry.DeviceReport{
		DeviceID:      "AA:BB:CC:DD:EE:01",
		Kind:          telemetry.KindHeartbeat,
		WifiConnected: &f,
		ReceivedAt:    time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	patch := telemetry.PatchFromReport(report)
	require.NotNil(t, patch.WifiConnected)
	assert.True(t, *patch.WifiConnected, "receipt of a report implies connectivity")
	assert.Equal(t, report.ReceivedAt, patch.LastSeen)
}

func TestPatchFromReportLeavesAbsentFieldsNil(t *testing.T) {
	report := telemetry.DeviceReport{
		DeviceID:   "AA:BB:CC:DD:EE:01",
		Kind:       telemetry.KindBasic,
		ReceivedAt: time.Now(),
	}

	patch := telemetry.PatchFromReport(report)
	assert.Nil(t, patch.RTCAvailable)
	assert.Nil(t, patch.StorageAvailable)
	assert.Nil(t, patch.CountBasic)
	assert.Nil(t, patch.DeviceTimestamp)
}
