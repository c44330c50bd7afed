package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

// StatusRepo persists device status rows
type StatusRepo struct {
	pool *pgxpool.Pool
}

// NewStatusRepo creates a new device status repository
func NewStatusRepo(pool *pgxpool.Pool) *StatusRepo {
	return &StatusRepo{pool: pool}
}

// Upsert creates or updates a device status row. Nil patch fields keep the
// stored column value: a report that omits a capability flag never resets a
// previously observed true.
func (r *StatusRepo) Upsert(ctx context.Context, deviceID string, patch telemetry.StatusPatch) error {
	query := `
		INSERT INTO device_status (
			device_id, last_seen, wifi_connected, rtc_available, storage_available,
			current_count_basic, current_count_standard, current_count_premium,
			device_timestamp, created_at, updated_at
		)
		VALUES (
			$1, $2, COALESCE($3, FALSE), COALESCE($4, FALSE), COALESCE($5, FALSE),
			COALESCE($6, 0), COALESCE($7, 0), COALESCE($8, 0), $9, NOW(), NOW()
		)
		ON CONFLICT (device_id) DO UPDATE SET
			last_seen            = EXCLUDED.last_seen,
			wifi_connected       = COALESCE($3, device_status.wifi_connected),
			rtc_available        = COALESCE($4, device_status.rtc_available),
			storage_available    = COALESCE($5, device_status.storage_available),
			current_count_basic  = COALESCE($6, device_status.current_count_basic),
			current_count_standard = COALESCE($7, device_status.current_count_standard),
			current_count_premium  = COALESCE($8, device_status.current_count_premium),
			device_timestamp     = COALESCE($9, device_status.device_timestamp),
			updated_at           = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		deviceID,
		patch.LastSeen,
		patch.WifiConnected,
		patch.RTCAvailable,
		patch.StorageAvailable,
		patch.CountBasic,
		patch.CountStandard,
		patch.CountPremium,
		patch.DeviceTimestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device status: %w", err)
	}
	return nil
}

const statusColumns = `
	device_id, last_seen, wifi_connected, rtc_available, storage_available,
	current_count_basic, current_count_standard, current_count_premium,
	device_timestamp, created_at, updated_at
`

// Get returns the status row for one device, nil when the device has never
// reported.
func (r *StatusRepo) Get(ctx context.Context, deviceID string) (*db.DeviceStatus, error) {
	query := `SELECT ` + statusColumns + ` FROM device_status WHERE device_id = $1`

	var status db.DeviceStatus
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&status.DeviceID,
		&status.LastSeen,
		&status.WifiConnected,
		&status.RTCAvailable,
		&status.StorageAvailable,
		&status.CurrentCountBasic,
		&status.CurrentCountStandard,
		&status.CurrentCountPremium,
		&status.DeviceTimestamp,
		&status.CreatedAt,
		&status.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device status: %w", err)
	}
	return &status, nil
}

// List returns all device status rows, most recently seen first
func (r *StatusRepo) List(ctx context.Context) ([]db.DeviceStatus, error) {
	query := `SELECT ` + statusColumns + ` FROM device_status ORDER BY last_seen DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list device status: %w", err)
	}
	defer rows.Close()

	var statuses []db.DeviceStatus
	for rows.Next() {
		var status db.DeviceStatus
		if err := rows.Scan(
			&status.DeviceID,
			&status.LastSeen,
			&status.WifiConnected,
			&status.RTCAvailable,
			&status.StorageAvailable,
			&status.CurrentCountBasic,
			&status.CurrentCountStandard,
			&status.CurrentCountPremium,
			&status.DeviceTimestamp,
			&status.CreatedAt,
			&status.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device status: %w", err)
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return statuses, nil
}

// SetCurrentCounts persists the reconciled counter cache for one device
func (r *StatusRepo) SetCurrentCounts(ctx context.Context, deviceID string, basic, standard, premium int64) error {
	query := `
		UPDATE device_status
		SET current_count_basic = $2,
		    current_count_standard = $3,
		    current_count_premium = $4,
		    updated_at = NOW()
		WHERE device_id = $1
	`

	_, err := r.pool.Exec(ctx, query, deviceID, basic, standard, premium)
	if err != nil {
		return fmt.Errorf("failed to set current counts: %w", err)
	}
	return nil
}

// Wipe deletes all device status rows
func (r *StatusRepo) Wipe(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM device_status`); err != nil {
		return fmt.Errorf("failed to wipe device status: %w", err)
	}
	return nil
}
