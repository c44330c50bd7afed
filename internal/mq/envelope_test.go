package mq_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozonworks/outlet-telemetry-worker/internal/mq"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

var receivedAt = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func TestDecodeStatusDelivery(t *testing.T) {
	body := []byte(`{
		"device_id": "AA:BB:CC:DD:EE:01",
		"mode": "status",
		"data": {
			"basic_count": 10,
			"standard_count": "4",
			"rtc_available": true,
			"timestamp": "2024-01-15 10:00:00"
		}
	}`)

	report, err := mq.DecodeReport("telemetry.status.AA:BB:CC:DD:EE:01", body, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:01", report.DeviceID)
	assert.Equal(t, telemetry.KindHeartbeat, report.Kind)
	require.NotNil(t, report.CountBasic)
	assert.Equal(t, int64(10), *report.CountBasic)
	require.NotNil(t, report.CountStandard, "quoted numbers are accepted")
	assert.Equal(t, int64(4), *report.CountStandard)
	assert.Nil(t, report.CountPremium)
	require.NotNil(t, report.RTCAvailable)
	assert.True(t, *report.RTCAvailable)
	assert.Equal(t, "2024-01-15 10:00:00", report.DeviceTimestamp)
	assert.True(t, report.ReceivedAt.Equal(receivedAt))
}

func TestDecodeEventDelivery(t *testing.T) {
	body := []byte(`{"mode": "BASIC", "ts": "2024-01-15 10:00:00", "data": {}}`)

	report, err := mq.DecodeReport("telemetry.event.AA:BB:CC:DD:EE:02", body, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:02", report.DeviceID, "identity falls back to the routing key")
	assert.Equal(t, telemetry.KindBasic, report.Kind)
	assert.Equal(t, "2024-01-15 10:00:00", report.DeviceTimestamp)
}

func TestDecodeEventKindFromEventType(t *testing.T) {
	body := []byte(`{"device_id": "AA:BB:CC:DD:EE:03", "data": {"event_type": "premium"}}`)

	report, err := mq.DecodeReport("telemetry.event.AA:BB:CC:DD:EE:03", body, receivedAt)
	require.NoError(t, err)
	assert.Equal(t, telemetry.KindPremium, report.Kind)
}

func TestDecodeEventRejectsUnusableKind(t *testing.T) {
	_, err := mq.DecodeReport("telemetry.event.AA:BB:CC:DD:EE:04", []byte(`{"mode": "deluxe", "data": {}}`), receivedAt)
	assert.Error(t, err)

	// An event delivery with no kind at all is unusable too
	_, err = mq.DecodeReport("telemetry.event.AA:BB:CC:DD:EE:04", []byte(`{"data": {}}`), receivedAt)
	assert.Error(t, err)
}

func TestDecodeMalformedCountCoercesToAbsent(t *testing.T) {
	body := []byte(`{
		"device_id": "AA:BB:CC:DD:EE:05",
		"mode": "status",
		"data": {"basic_count": "garbled", "standard_count": null, "premium_count": 2.9}
	}`)

	report, err := mq.DecodeReport("telemetry.status.AA:BB:CC:DD:EE:05", body, receivedAt)
	require.NoError(t, err, "a garbled count never fails the envelope")

	assert.Nil(t, report.CountBasic)
	assert.Nil(t, report.CountStandard)
	require.NotNil(t, report.CountPremium)
	assert.Equal(t, int64(2), *report.CountPremium, "fractional counts truncate")
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	_, err := mq.DecodeReport("telemetry.status.AA:BB:CC:DD:EE:06", []byte(`{not json`), receivedAt)
	assert.Error(t, err)
}
