package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

// UsageRepo persists the daily usage rollup rows
type UsageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a new daily usage repository
func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// Apply folds one usage event into the (deviceID, date) row as a single
// upsert, so concurrent writers on different devices cannot lose increments.
func (r *UsageRepo) Apply(ctx context.Context, deviceID string, date time.Time, kind telemetry.ReportKind, occurredAt time.Time) error {
	var basic, standard, premium int64
	switch kind {
	case telemetry.KindBasic:
		basic = 1
	case telemetry.KindStandard:
		standard = 1
	case telemetry.KindPremium:
		premium = 1
	default:
		return fmt.Errorf("kind %q is not a usage kind", kind)
	}

	query := `
		INSERT INTO daily_usage (
			device_id, usage_date, basic_count, standard_count, premium_count,
			total_events, first_event, last_event, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6, NOW())
		ON CONFLICT (device_id, usage_date) DO UPDATE SET
			basic_count    = daily_usage.basic_count + $3,
			standard_count = daily_usage.standard_count + $4,
			premium_count  = daily_usage.premium_count + $5,
			total_events   = daily_usage.total_events + 1,
			first_event    = LEAST(daily_usage.first_event, $6),
			last_event     = GREATEST(daily_usage.last_event, $6),
			updated_at     = NOW()
	`

	_, err := r.pool.Exec(ctx, query, deviceID, date, basic, standard, premium, occurredAt)
	if err != nil {
		return fmt.Errorf("failed to apply daily usage: %w", err)
	}
	return nil
}

// Replace overwrites the (deviceID, date) row with the recomputed contents
func (r *UsageRepo) Replace(ctx context.Context, row *db.DailyUsage) error {
	query := `
		INSERT INTO daily_usage (
			device_id, usage_date, basic_count, standard_count, premium_count,
			total_events, first_event, last_event, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (device_id, usage_date) DO UPDATE SET
			basic_count    = EXCLUDED.basic_count,
			standard_count = EXCLUDED.standard_count,
			premium_count  = EXCLUDED.premium_count,
			total_events   = EXCLUDED.total_events,
			first_event    = EXCLUDED.first_event,
			last_event     = EXCLUDED.last_event,
			updated_at     = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		row.DeviceID,
		row.UsageDate,
		row.BasicCount,
		row.StandardCount,
		row.PremiumCount,
		row.TotalEvents,
		row.FirstEvent,
		row.LastEvent,
	)
	if err != nil {
		return fmt.Errorf("failed to replace daily usage row: %w", err)
	}
	return nil
}

// Delete removes the (deviceID, date) row if present
func (r *UsageRepo) Delete(ctx context.Context, deviceID string, date time.Time) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM daily_usage WHERE device_id = $1 AND usage_date = $2`, deviceID, date)
	if err != nil {
		return fmt.Errorf("failed to delete daily usage row: %w", err)
	}
	return nil
}

const usageColumns = `
	device_id, usage_date, basic_count, standard_count, premium_count,
	total_events, first_event, last_event, updated_at
`

// Get returns the (deviceID, date) row, nil when absent
func (r *UsageRepo) Get(ctx context.Context, deviceID string, date time.Time) (*db.DailyUsage, error) {
	query := `SELECT ` + usageColumns + ` FROM daily_usage WHERE device_id = $1 AND usage_date = $2`

	rows, err := r.pool.Query(ctx, query, deviceID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows iteration error: %w", err)
		}
		return nil, nil
	}

	row, err := scanUsage(rows)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Query returns the rollup rows for one device in [from, to], newest first
func (r *UsageRepo) Query(ctx context.Context, deviceID string, from, to time.Time) ([]db.DailyUsage, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM daily_usage
		WHERE device_id = $1 AND usage_date >= $2 AND usage_date <= $3
		ORDER BY usage_date DESC
	`

	rows, err := r.pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var usage []db.DailyUsage
	for rows.Next() {
		row, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usage = append(usage, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return usage, nil
}

type usageScanner interface {
	Scan(dest ...interface{}) error
}

func scanUsage(s usageScanner) (*db.DailyUsage, error) {
	var row db.DailyUsage
	if err := s.Scan(
		&row.DeviceID,
		&row.UsageDate,
		&row.BasicCount,
		&row.StandardCount,
		&row.PremiumCount,
		&row.TotalEvents,
		&row.FirstEvent,
		&row.LastEvent,
		&row.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan daily usage row: %w", err)
	}
	return &row, nil
}

// Wipe deletes every rollup row
func (r *UsageRepo) Wipe(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM daily_usage`); err != nil {
		return fmt.Errorf("failed to wipe daily usage: %w", err)
	}
	return nil
}
