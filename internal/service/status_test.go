package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

func TestReconcileHealsDriftedCounters(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.ingest.Ingest(ctx, basicReport("AA:BB:CC:DD:EE:01", "2024-01-15 10:00:00"))
		require.NoError(t, err)
	}

	// Simulate a cache that diverged from the ledger, as after a crash
	// between the append and the counter write.
	require.NoError(t, s.status.SetCurrentCounts(ctx, "AA:BB:CC:DD:EE:01", 1, 5, 0))

	result, err := s.register.Reconcile(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.True(t, result.Drifted)
	assert.Equal(t, int64(3), result.Basic)
	assert.Equal(t, int64(0), result.Standard)
	assert.Equal(t, int64(0), result.Premium)

	status, err := s.register.Get(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, int64(3), status.CurrentCountBasic)
	assert.Equal(t, int64(0), status.CurrentCountStandard)
}

func TestReconcileCleanCacheReportsNoDrift(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.ingest.Ingest(ctx, basicReport("AA:BB:CC:DD:EE:01", "2024-01-15 10:00:00"))
	require.NoError(t, err)
	require.NoError(t, s.status.SetCurrentCounts(ctx, "AA:BB:CC:DD:EE:01", 1, 0, 0))

	result, err := s.register.Reconcile(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.False(t, result.Drifted)
	assert.Equal(t, int64(1), result.Basic)
}

func TestReconcileAllCoversEveryDevice(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.ingest.Ingest(ctx, basicReport("AA:BB:CC:DD:EE:01", "2024-01-15 10:00:00"))
	require.NoError(t, err)

	report := basicReport("AA:BB:CC:DD:EE:02", "2024-01-15 11:00:00")
	report.Kind = telemetry.KindPremium
	_, err = s.ingest.Ingest(ctx, report)
	require.NoError(t, err)

	results, err := s.register.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byDevice := make(map[string]service.ReconcileResult, len(results))
	for _, r := range results {
		byDevice[r.DeviceID] = r
	}
	assert.Equal(t, int64(1), byDevice["AA:BB:CC:DD:EE:01"].Basic)
	assert.Equal(t, int64(1), byDevice["AA:BB:CC:DD:EE:02"].Premium)
}

func TestAccumulatedCountReadsLedgerNotCache(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.ingest.Ingest(ctx, basicReport("AA:BB:CC:DD:EE:01", "2024-01-15 10:00:00"))
	require.NoError(t, err)

	// Poison the cache; the accumulated count must not care
	require.NoError(t, s.status.SetCurrentCounts(ctx, "AA:BB:CC:DD:EE:01", 99, 99, 99))

	count, err := s.register.AccumulatedCount(ctx, "AA:BB:CC:DD:EE:01", telemetry.KindBasic)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
