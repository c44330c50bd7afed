package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
	"github.com/ozonworks/outlet-telemetry-worker/tools/timeparser"
	"go.uber.org/zap"
)

// clockSkewToleranceMinutes bounds how far a device clock may sit from the
// server clock before the skew is worth flagging. The skewed timestamp is
// still used; devices without NTP drift and their wall clock remains the
// better occurrence instant.
const clockSkewToleranceMinutes = 10

// IngestOutcome summarizes what one report changed
type IngestOutcome struct {
	DeviceID   string
	Kind       telemetry.ReportKind
	OccurredAt time.Time
	// DeviceClock is true when the occurrence instant came from the
	// device-supplied timestamp rather than the server clock.
	DeviceClock bool
	// EventID is the ledger ID of the appended event, 0 for heartbeats.
	EventID int64
	// UsageRecorded is false when the ledger append succeeded but the
	// rollup update did not; the rollup is repairable via Rebuild.
	UsageRecorded bool
}

// IngestService is the orchestration entry point invoked once per inbound
// report. Both transports funnel into the same instance; reports for the
// same device identity are serialized, different devices run in parallel.
type IngestService struct {
	status     *StatusRegister
	ledger     EventLedger
	aggregator *UsageAggregator
	loc        *time.Location
	logger     *zap.Logger
	locks      keyedMutex
}

// NewIngestService creates a new ingest service
func NewIngestService(status *StatusRegister, ledger EventLedger, aggregator *UsageAggregator, loc *time.Location, logger *zap.Logger) *IngestService {
	return &IngestService{
		status:     status,
		ledger:     ledger,
		aggregator: aggregator,
		loc:        loc,
		logger:     logger,
	}
}

// Ingest applies one device report: status upsert always, ledger append and
// rollup update for usage kinds only. The ledger append is the durability
// boundary; a rollup failure after it never rolls the event back.
func (s *IngestService) Ingest(ctx context.Context, report telemetry.DeviceReport) (IngestOutcome, error) {
	if strings.TrimSpace(report.DeviceID) == "" {
		return IngestOutcome{}, ErrInvalidReport
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = time.Now()
	}

	unlock := s.locks.Lock(report.DeviceID)
	defer unlock()

	occurredAt, fromDevice := telemetry.ResolveOccurredAt(report, s.loc)
	if fromDevice && !timeparser.IsWithinTolerance(occurredAt, report.ReceivedAt, clockSkewToleranceMinutes) {
		s.logger.Warn("device clock skew exceeds tolerance",
			zap.String("device_id", report.DeviceID),
			zap.Time("device_time", occurredAt),
			zap.Time("received_at", report.ReceivedAt),
		)
	}
	outcome := IngestOutcome{
		DeviceID:    report.DeviceID,
		Kind:        report.Kind,
		OccurredAt:  occurredAt,
		DeviceClock: fromDevice,
	}

	if err := s.status.Upsert(ctx, report.DeviceID, telemetry.PatchFromReport(report)); err != nil {
		return outcome, fmt.Errorf("failed to upsert device status: %w", err)
	}

	// Heartbeats refresh liveness and capabilities only
	if !report.Kind.IsUsage() {
		s.logger.Debug("heartbeat processed",
			zap.String("device_id", report.DeviceID),
		)
		return outcome, nil
	}

	event := &db.TelemetryEvent{
		DeviceID:         report.DeviceID,
		EventKind:        string(report.Kind),
		CountBasic:       report.CountBasic,
		CountStandard:    report.CountStandard,
		CountPremium:     report.CountPremium,
		OccurredAt:       occurredAt,
		WifiConnected:    report.WifiConnected,
		RTCAvailable:     report.RTCAvailable,
		StorageAvailable: report.StorageAvailable,
		ReceivedAt:       report.ReceivedAt,
	}
	if report.DeviceTimestamp != "" {
		ts := report.DeviceTimestamp
		event.DeviceTimestamp = &ts
	}

	eventID, err := s.ledger.Append(ctx, event)
	if err != nil {
		return outcome, fmt.Errorf("failed to append telemetry event: %w", err)
	}
	outcome.EventID = eventID

	if err := s.aggregator.RecordEvent(ctx, report.DeviceID, report.Kind, occurredAt); err != nil {
		// The event is durable; the rollup row is stale until rebuilt.
		s.logger.Error("daily usage update failed after ledger append, rollup is repairable via rebuild",
			zap.Error(err),
			zap.String("device_id", report.DeviceID),
			zap.Int64("event_id", eventID),
		)
		return outcome, nil
	}
	outcome.UsageRecorded = true

	s.logger.Info("usage event ingested",
		zap.String("device_id", report.DeviceID),
		zap.String("kind", string(report.Kind)),
		zap.Int64("event_id", eventID),
		zap.Time("occurred_at", occurredAt),
		zap.Bool("device_clock", fromDevice),
	)

	return outcome, nil
}

// QueryEvents exposes the ledger query contract to read-only collaborators
func (s *IngestService) QueryEvents(ctx context.Context, filter EventFilter) ([]db.TelemetryEvent, error) {
	return s.ledger.Query(ctx, filter)
}

// Reset wipes the ledger, the rollups and the status rows. This is the
// explicit full-system reset, never part of the ingest flow.
func (s *IngestService) Reset(ctx context.Context) error {
	if err := s.ledger.Wipe(ctx); err != nil {
		return fmt.Errorf("failed to wipe event ledger: %w", err)
	}
	if err := s.aggregator.usage.Wipe(ctx); err != nil {
		return fmt.Errorf("failed to wipe daily usage: %w", err)
	}
	if err := s.status.store.Wipe(ctx); err != nil {
		return fmt.Errorf("failed to wipe device status: %w", err)
	}
	s.logger.Warn("full telemetry reset performed")
	return nil
}
