package timeparser_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozonworks/outlet-telemetry-worker/tools/timeparser"
)

func TestParseDeviceTimestampWallClock(t *testing.T) {
	loc := time.FixedZone("site", 3*3600)

	parsed, err := timeparser.ParseDeviceTimestamp("2024-01-15 10:00:00", loc)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, loc), parsed)
}

func TestParseDeviceTimestampEpochSeconds(t *testing.T) {
	parsed, err := timeparser.ParseDeviceTimestamp("1705312800", time.UTC)
	require.NoError(t, err)

	assert.True(t, parsed.Equal(time.Unix(1705312800, 0)))
}

func TestParseDeviceTimestampRFC3339(t *testing.T) {
	parsed, err := timeparser.ParseDeviceTimestamp("2024-01-15T10:00:00Z", time.UTC)
	require.NoError(t, err)

	assert.True(t, parsed.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))
}

func TestParseDeviceTimestampRejectsGarbage(t *testing.T) {
	_, err := timeparser.ParseDeviceTimestamp("not-a-time", time.UTC)
	assert.Error(t, err)

	_, err = timeparser.ParseDeviceTimestamp("", time.UTC)
	assert.Error(t, err)
}

func TestIsWithinTolerance(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	assert.True(t, timeparser.IsWithinTolerance(now.Add(4*time.Minute), now, 5))
	assert.True(t, timeparser.IsWithinTolerance(now.Add(-4*time.Minute), now, 5))
	assert.False(t, timeparser.IsWithinTolerance(now.Add(6*time.Minute), now, 5))
}
