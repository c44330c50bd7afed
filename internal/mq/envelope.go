package mq

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

// reportEnvelope is the pub/sub wire shape. Devices publish to
// telemetry.status.<device> (heartbeats) and telemetry.event.<device>
// (usage events); the payload nests the report under "data" the way the
// firmware builds it. Count fields are raw JSON so a garbled value coerces
// to absent instead of failing the whole envelope.
type reportEnvelope struct {
	DeviceID string     `json:"device_id"`
	Mode     string     `json:"mode"`
	TS       string     `json:"ts"`
	Data     reportData `json:"data"`
}

type reportData struct {
	EventType        string          `json:"event_type"`
	BasicCount       json.RawMessage `json:"basic_count"`
	StandardCount    json.RawMessage `json:"standard_count"`
	PremiumCount     json.RawMessage `json:"premium_count"`
	WifiConnected    *bool           `json:"wifi_connected"`
	RTCAvailable     *bool           `json:"rtc_available"`
	StorageAvailable *bool           `json:"storage_available"`
	Timestamp        string          `json:"timestamp"`
}

// DecodeReport normalizes one pub/sub delivery into a DeviceReport.
// The device identity comes from the envelope when present, else from the
// routing key's last segment.
func DecodeReport(routingKey string, body []byte, receivedAt time.Time) (telemetry.DeviceReport, error) {
	var env reportEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return telemetry.DeviceReport{}, fmt.Errorf("failed to unmarshal report envelope: %w", err)
	}

	deviceID := strings.TrimSpace(env.DeviceID)
	segments := strings.Split(routingKey, ".")
	if deviceID == "" && len(segments) >= 3 {
		deviceID = segments[len(segments)-1]
	}

	// The stream segment decides heartbeat vs usage; the mode/event_type
	// field picks the usage kind.
	kind := telemetry.KindHeartbeat
	stream := ""
	if len(segments) >= 2 {
		stream = segments[1]
	}
	if stream == "event" {
		mode := env.Mode
		if mode == "" {
			mode = env.Data.EventType
		}
		parsed, ok := telemetry.ParseKind(mode)
		if !ok || !parsed.IsUsage() {
			return telemetry.DeviceReport{}, fmt.Errorf("event delivery with unusable kind %q on %s", mode, routingKey)
		}
		kind = parsed
	}

	deviceTS := env.TS
	if deviceTS == "" {
		deviceTS = env.Data.Timestamp
	}

	return telemetry.DeviceReport{
		DeviceID:         deviceID,
		Kind:             kind,
		CountBasic:       coerceRawCount(env.Data.BasicCount),
		CountStandard:    coerceRawCount(env.Data.StandardCount),
		CountPremium:     coerceRawCount(env.Data.PremiumCount),
		DeviceTimestamp:  deviceTS,
		WifiConnected:    env.Data.WifiConnected,
		RTCAvailable:     env.Data.RTCAvailable,
		StorageAvailable: env.Data.StorageAvailable,
		ReceivedAt:       receivedAt,
	}, nil
}

// coerceRawCount accepts a JSON number or quoted number; anything else
// coerces to absent.
func coerceRawCount(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if value == "null" {
		return nil
	}
	return telemetry.CoerceCount(value)
}
