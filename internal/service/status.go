package service

import (
	"context"
	"fmt"

	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// StatusRegister is the current-state view per device. The counters on the
// status row are an advisory cache; the ledger is authoritative, and the
// register can always recompute the cache from it.
type StatusRegister struct {
	store  StatusStore
	ledger EventLedger
	logger *zap.Logger
}

// NewStatusRegister creates a new status register
func NewStatusRegister(store StatusStore, ledger EventLedger, logger *zap.Logger) *StatusRegister {
	return &StatusRegister{
		store:  store,
		ledger: ledger,
		logger: logger,
	}
}

// Upsert applies a patch to the device's status row, creating it on first
// contact. Absent patch fields never reset previously observed values.
func (s *StatusRegister) Upsert(ctx context.Context, deviceID string, patch telemetry.StatusPatch) error {
	return s.store.Upsert(ctx, deviceID, patch)
}

// Get returns the status row for one device
func (s *StatusRegister) Get(ctx context.Context, deviceID string) (*db.DeviceStatus, error) {
	return s.store.Get(ctx, deviceID)
}

// List returns all known device status rows
func (s *StatusRegister) List(ctx context.Context) ([]db.DeviceStatus, error) {
	return s.store.List(ctx)
}

// AccumulatedCount is the externally-visible count for (device, kind):
// a live count over the event ledger, not a field read, so it is always
// reconcilable to ledger truth even when the cached copy drifted.
func (s *StatusRegister) AccumulatedCount(ctx context.Context, deviceID string, kind telemetry.ReportKind) (int64, error) {
	return s.ledger.CountByKind(ctx, deviceID, kind)
}

// ReconcileResult reports what Reconcile found and fixed for one device
type ReconcileResult struct {
	DeviceID string
	Basic    int64
	Standard int64
	Premium  int64
	// Drifted is true when the cached counters disagreed with the ledger
	Drifted bool
}

// Reconcile recomputes the cached counters from the ledger and persists
// them. Divergence is logged and healed, never fatal.
func (s *StatusRegister) Reconcile(ctx context.Context, deviceID string) (ReconcileResult, error) {
	result := ReconcileResult{DeviceID: deviceID}

	basic, standard, premium, err := s.ledger.KindCounts(ctx, deviceID)
	if err != nil {
		return result, fmt.Errorf("failed to count ledger events: %w", err)
	}
	result.Basic, result.Standard, result.Premium = basic, standard, premium

	status, err := s.store.Get(ctx, deviceID)
	if err != nil {
		return result, fmt.Errorf("failed to load device status: %w", err)
	}
	if status != nil &&
		(status.CurrentCountBasic != basic ||
			status.CurrentCountStandard != standard ||
			status.CurrentCountPremium != premium) {
		result.Drifted = true
		s.logger.Warn("aggregation inconsistency: cached counters diverged from ledger, recomputing",
			zap.String("device_id", deviceID),
			zap.Int64("cached_basic", status.CurrentCountBasic),
			zap.Int64("cached_standard", status.CurrentCountStandard),
			zap.Int64("cached_premium", status.CurrentCountPremium),
			zap.Int64("ledger_basic", basic),
			zap.Int64("ledger_standard", standard),
			zap.Int64("ledger_premium", premium),
		)
	}

	if err := s.store.SetCurrentCounts(ctx, deviceID, basic, standard, premium); err != nil {
		return result, fmt.Errorf("failed to persist reconciled counts: %w", err)
	}

	return result, nil
}

// ReconcileAll reconciles every known device
func (s *StatusRegister) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	statuses, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	results := make([]ReconcileResult, 0, len(statuses))
	for _, st := range statuses {
		result, err := s.Reconcile(ctx, st.DeviceID)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
