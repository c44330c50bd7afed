package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/ozonworks/outlet-telemetry-worker/tools/timeparser"
)

// ReportKind classifies an inbound device report
type ReportKind string

const (
	KindBasic     ReportKind = "BASIC"
	KindStandard  ReportKind = "STANDARD"
	KindPremium   ReportKind = "PREMIUM"
	KindHeartbeat ReportKind = "HEARTBEAT"
)

// IsUsage reports whether the kind represents a billable usage event,
// as opposed to a liveness heartbeat.
func (k ReportKind) IsUsage() bool {
	switch k {
	case KindBasic, KindStandard, KindPremium:
		return true
	}
	return false
}

// ParseKind maps a wire-level mode string to a report kind. Devices send
// "status" for heartbeats and the usage kind name for events. Unknown modes
// degrade to heartbeat so a report with a garbled mode still refreshes
// liveness instead of being dropped.
func ParseKind(mode string) (ReportKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "BASIC":
		return KindBasic, true
	case "STANDARD":
		return KindStandard, true
	case "PREMIUM":
		return KindPremium, true
	case "STATUS", "HEARTBEAT", "":
		return KindHeartbeat, true
	}
	return KindHeartbeat, false
}

// DeviceReport is the normalized inbound report both transports produce.
// Optional fields are pointers: nil means the device did not send the field,
// which is distinct from sending a zero value.
type DeviceReport struct {
	DeviceID         string
	Kind             ReportKind
	CountBasic       *int64
	CountStandard    *int64
	CountPremium     *int64
	DeviceTimestamp  string
	WifiConnected    *bool
	RTCAvailable     *bool
	StorageAvailable *bool
	ReceivedAt       time.Time
}

// CoerceCount parses a wire-level count field. Malformed values coerce to
// nil rather than failing the report; fractional values are truncated.
func CoerceCount(value string) *int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if iv, err := strconv.ParseInt(value, 10, 64); err == nil {
		return &iv
	}
	if fv, err := strconv.ParseFloat(value, 64); err == nil {
		iv := int64(fv)
		return &iv
	}
	return nil
}

// ResolveOccurredAt resolves the occurrence instant of a report: the
// device-supplied timestamp parsed in the site timezone when present and
// parseable, otherwise the server-observed receipt time. The bool reports
// whether the device clock was used.
func ResolveOccurredAt(r DeviceReport, loc *time.Location) (time.Time, bool) {
	if r.DeviceTimestamp != "" {
		if t, err := timeparser.ParseDeviceTimestamp(r.DeviceTimestamp, loc); err == nil {
			return t, true
		}
	}
	return r.ReceivedAt, false
}

// StatusPatch is the set of changes a single report applies to a device
// status row. Nil fields are no-ops on the stored row, never resets.
type StatusPatch struct {
	LastSeen         time.Time
	WifiConnected    *bool
	RTCAvailable     *bool
	StorageAvailable *bool
	CountBasic       *int64
	CountStandard    *int64
	CountPremium     *int64
	DeviceTimestamp  *string
}

// PatchFromReport builds the status patch for a report. Receipt of any
// report implies the device is currently connected, so wifi_connected is
// always forced true regardless of what the report claims.
func PatchFromReport(r DeviceReport) StatusPatch {
	connected := true
	patch := StatusPatch{
		LastSeen:         r.ReceivedAt,
		WifiConnected:    &connected,
		RTCAvailable:     r.RTCAvailable,
		StorageAvailable: r.StorageAvailable,
		CountBasic:       r.CountBasic,
		CountStandard:    r.CountStandard,
		CountPremium:     r.CountPremium,
	}
	if r.DeviceTimestamp != "" {
		ts := r.DeviceTimestamp
		patch.DeviceTimestamp = &ts
	}
	return patch
}
