package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

// LedgerRepo persists the append-only telemetry event ledger. Events are
// never updated or deleted individually; Wipe is the only destructive
// operation and backs the explicit full-system reset.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo creates a new event ledger repository
func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts one telemetry event and returns its ledger ID
func (r *LedgerRepo) Append(ctx context.Context, event *db.TelemetryEvent) (int64, error) {
	query := `
		INSERT INTO telemetry_events (
			device_id, event_kind, count_basic, count_standard, count_premium,
			occurred_at, device_timestamp, wifi_connected, rtc_available,
			storage_available, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		event.DeviceID,
		event.EventKind,
		event.CountBasic,
		event.CountStandard,
		event.CountPremium,
		event.OccurredAt,
		event.DeviceTimestamp,
		event.WifiConnected,
		event.RTCAvailable,
		event.StorageAvailable,
		event.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append telemetry event: %w", err)
	}
	return id, nil
}

// Query returns events matching the filter, ordered by occurrence instant
// descending with insertion order breaking ties.
func (r *LedgerRepo) Query(ctx context.Context, filter service.EventFilter) ([]db.TelemetryEvent, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.DeviceID != "" {
		conds = append(conds, "device_id = "+arg(filter.DeviceID))
	}
	if filter.Kind != "" {
		conds = append(conds, "event_kind = "+arg(string(filter.Kind)))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "occurred_at < "+arg(filter.To))
	}

	query := `
		SELECT id, device_id, event_kind, count_basic, count_standard, count_premium,
		       occurred_at, device_timestamp, wifi_connected, rtc_available,
		       storage_available, received_at
		FROM telemetry_events
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry events: %w", err)
	}
	defer rows.Close()

	var events []db.TelemetryEvent
	for rows.Next() {
		var ev db.TelemetryEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.DeviceID,
			&ev.EventKind,
			&ev.CountBasic,
			&ev.CountStandard,
			&ev.CountPremium,
			&ev.OccurredAt,
			&ev.DeviceTimestamp,
			&ev.WifiConnected,
			&ev.RTCAvailable,
			&ev.StorageAvailable,
			&ev.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

// CountByKind returns the number of ledger events for (device, kind)
func (r *LedgerRepo) CountByKind(ctx context.Context, deviceID string, kind telemetry.ReportKind) (int64, error) {
	query := `SELECT COUNT(*) FROM telemetry_events WHERE device_id = $1 AND event_kind = $2`

	var count int64
	if err := r.pool.QueryRow(ctx, query, deviceID, string(kind)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count telemetry events: %w", err)
	}
	return count, nil
}

// KindCounts returns the per-kind event counts for one device in one pass
func (r *LedgerRepo) KindCounts(ctx context.Context, deviceID string) (basic, standard, premium int64, err error) {
	query := `
		SELECT event_kind, COUNT(*)
		FROM telemetry_events
		WHERE device_id = $1
		GROUP BY event_kind
	`

	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count telemetry events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return 0, 0, 0, fmt.Errorf("failed to scan kind count: %w", err)
		}
		switch telemetry.ReportKind(kind) {
		case telemetry.KindBasic:
			basic = count
		case telemetry.KindStandard:
			standard = count
		case telemetry.KindPremium:
			premium = count
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, 0, fmt.Errorf("rows iteration error: %w", err)
	}
	return basic, standard, premium, nil
}

// Wipe deletes every ledger event
func (r *LedgerRepo) Wipe(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM telemetry_events`); err != nil {
		return fmt.Errorf("failed to wipe telemetry events: %w", err)
	}
	return nil
}
