package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// DayOf truncates t to its calendar date in loc. Rollup rows are keyed by
// these midnight instants.
func DayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// UsageAggregator maintains the daily rollup rows. The rollup is a cache:
// every row is recomputable from the event ledger via Rebuild.
type UsageAggregator struct {
	ledger EventLedger
	usage  UsageStore
	loc    *time.Location
	logger *zap.Logger
}

// NewUsageAggregator creates a new usage aggregator
func NewUsageAggregator(ledger EventLedger, usage UsageStore, loc *time.Location, logger *zap.Logger) *UsageAggregator {
	return &UsageAggregator{
		ledger: ledger,
		usage:  usage,
		loc:    loc,
		logger: logger,
	}
}

// RecordEvent folds one usage event into the rollup row for its calendar day
func (a *UsageAggregator) RecordEvent(ctx context.Context, deviceID string, kind telemetry.ReportKind, occurredAt time.Time) error {
	date := DayOf(occurredAt, a.loc)
	if err := a.usage.Apply(ctx, deviceID, date, kind, occurredAt); err != nil {
		return fmt.Errorf("failed to apply usage event: %w", err)
	}
	return nil
}

// Rebuild discards and recomputes the rollup row for (deviceID, date) from
// the event ledger. The row is deleted when the ledger holds no events for
// that day. Rebuild is idempotent.
func (a *UsageAggregator) Rebuild(ctx context.Context, deviceID string, date time.Time) (*db.DailyUsage, error) {
	day := DayOf(date, a.loc)
	events, err := a.ledger.Query(ctx, EventFilter{
		DeviceID: deviceID,
		From:     day,
		To:       day.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger for rebuild: %w", err)
	}

	if len(events) == 0 {
		if err := a.usage.Delete(ctx, deviceID, day); err != nil {
			return nil, fmt.Errorf("failed to delete empty usage row: %w", err)
		}
		return nil, nil
	}

	row := &db.DailyUsage{
		DeviceID:  deviceID,
		UsageDate: day,
	}
	for _, ev := range events {
		switch telemetry.ReportKind(ev.EventKind) {
		case telemetry.KindBasic:
			row.BasicCount++
		case telemetry.KindStandard:
			row.StandardCount++
		case telemetry.KindPremium:
			row.PremiumCount++
		}
		row.TotalEvents++

		occurred := ev.OccurredAt
		if row.FirstEvent == nil || occurred.Before(*row.FirstEvent) {
			t := occurred
			row.FirstEvent = &t
		}
		if row.LastEvent == nil || occurred.After(*row.LastEvent) {
			t := occurred
			row.LastEvent = &t
		}
	}

	if err := a.usage.Replace(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to replace usage row: %w", err)
	}

	a.logger.Info("rebuilt daily usage row",
		zap.String("device_id", deviceID),
		zap.String("date", day.Format("2006-01-02")),
		zap.Int64("total_events", row.TotalEvents),
	)

	return row, nil
}

// RebuildRange rebuilds every day in [from, to] for one device. Used by the
// repair endpoint, typically over a trailing window of days.
func (a *UsageAggregator) RebuildRange(ctx context.Context, deviceID string, from, to time.Time) (int, error) {
	start := DayOf(from, a.loc)
	end := DayOf(to, a.loc)
	if end.Before(start) {
		return 0, fmt.Errorf("invalid range: end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	rebuilt := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if _, err := a.Rebuild(ctx, deviceID, day); err != nil {
			return rebuilt, err
		}
		rebuilt++
	}
	return rebuilt, nil
}

// QueryUsage returns the rollup rows for one device in [from, to]
func (a *UsageAggregator) QueryUsage(ctx context.Context, deviceID string, from, to time.Time) ([]db.DailyUsage, error) {
	return a.usage.Query(ctx, deviceID, DayOf(from, a.loc), DayOf(to, a.loc))
}
