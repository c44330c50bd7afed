package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

func TestDayOfBucketsInSiteTimezone(t *testing.T) {
	loc := time.FixedZone("site", -3*3600)

	// 01:00 UTC is still the previous calendar day at UTC-3
	instant := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)
	day := service.DayOf(instant, loc)

	assert.Equal(t, time.Date(2024, 1, 14, 0, 0, 0, 0, loc), day)
}

func TestRebuildIsIdempotent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	kinds := []telemetry.ReportKind{telemetry.KindBasic, telemetry.KindBasic, telemetry.KindPremium}
	for i, kind := range kinds {
		report := basicReport("AA:BB:CC:DD:EE:01", "")
		report.Kind = kind
		report.DeviceTimestamp = time.Date(2024, 1, 15, 10, i, 0, 0, s.loc).Format("2006-01-02 15:04:05")
		_, err := s.ingest.Ingest(ctx, report)
		require.NoError(t, err)
	}

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, s.loc)

	first, err := s.aggregator.Rebuild(ctx, "AA:BB:CC:DD:EE:01", day)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.aggregator.Rebuild(ctx, "AA:BB:CC:DD:EE:01", day)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.BasicCount, second.BasicCount)
	assert.Equal(t, first.PremiumCount, second.PremiumCount)
	assert.Equal(t, first.TotalEvents, second.TotalEvents)
	assert.Equal(t, int64(2), second.BasicCount)
	assert.Equal(t, int64(1), second.PremiumCount)
	assert.Equal(t, int64(3), second.TotalEvents)
}

func TestRebuildMatchesIncrementalRollup(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.ingest.Ingest(ctx, basicReport("AA:BB:CC:DD:EE:01", "2024-01-15 10:00:00"))
	require.NoError(t, err)
	_, err = s.ingest.Ingest(ctx, basicReport("AA:BB:CC:DD:EE:01", "2024-01-15 10:05:00"))
	require.NoError(t, err)

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, s.loc)
	incremental, err := s.usage.Get(ctx, "AA:BB:CC:DD:EE:01", day)
	require.NoError(t, err)
	require.NotNil(t, incremental)

	rebuilt, err := s.aggregator.Rebuild(ctx, "AA:BB:CC:DD:EE:01", day)
	require.NoError(t, err)
	require.NotNil(t, rebuilt)

	assert.Equal(t, incremental.BasicCount, rebuilt.BasicCount)
	assert.Equal(t, incremental.TotalEvents, rebuilt.TotalEvents)
	assert.True(t, incremental.FirstEvent.Equal(*rebuilt.FirstEvent))
	assert.True(t, incremental.LastEvent.Equal(*rebuilt.LastEvent))
}

func TestRebuildDeletesRowWithoutEvents(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, s.loc)
	// A stray rollup row with no ledger backing
	require.NoError(t, s.usage.Apply(ctx, "AA:BB:CC:DD:EE:01", day, telemetry.KindBasic, day.Add(10*time.Hour)))

	row, err := s.aggregator.Rebuild(ctx, "AA:BB:CC:DD:EE:01", day)
	require.NoError(t, err)
	assert.Nil(t, row)

	stored, err := s.usage.Get(ctx, "AA:BB:CC:DD:EE:01", day)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRebuildRange(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	for day := 14; day <= 16; day++ {
		report := basicReport("AA:BB:CC:DD:EE:01", "")
		report.DeviceTimestamp = time.Date(2024, 1, day, 9, 0, 0, 0, s.loc).Format("2006-01-02 15:04:05")
		_, err := s.ingest.Ingest(ctx, report)
		require.NoError(t, err)
	}

	from := time.Date(2024, 1, 14, 0, 0, 0, 0, s.loc)
	to := time.Date(2024, 1, 16, 0, 0, 0, 0, s.loc)

	rebuilt, err := s.aggregator.RebuildRange(ctx, "AA:BB:CC:DD:EE:01", from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, rebuilt)

	rows, err := s.aggregator.QueryUsage(ctx, "AA:BB:CC:DD:EE:01", from, to)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = s.aggregator.RebuildRange(ctx, "AA:BB:CC:DD:EE:01", to, from)
	assert.Error(t, err, "inverted range is rejected")
}
