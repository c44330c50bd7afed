package timeparser

import (
	"fmt"
	"strconv"
	"time"
)

// deviceClockFormat is the wall-clock format field devices write when they
// have a real-time clock on board.
const deviceClockFormat = "2006-01-02 15:04:05"

// ParseDeviceTimestamp attempts to parse a device-supplied timestamp.
// The device clock format carries no zone, so it is interpreted in loc.
// Epoch seconds and RFC3339 are accepted for devices that sync over NTP.
func ParseDeviceTimestamp(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}

	if t, err := time.ParseInLocation(deviceClockFormat, value, loc); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", value, err)
	}
	return t, nil
}

// IsWithinTolerance checks if the device timestamp is within tolerance of
// the server-observed time
func IsWithinTolerance(deviceTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := deviceTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
