package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// AssignmentRepo persists outlets, machines and device assignments
type AssignmentRepo struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepo creates a new assignment repository
func NewAssignmentRepo(pool *pgxpool.Pool) *AssignmentRepo {
	return &AssignmentRepo{pool: pool}
}

// WithTx runs fn on one transaction, committing when fn returns nil.
// Assignment invariant checks and writes share the transaction so
// check-then-act races are excluded; the partial unique indexes on the
// table back the same invariants at the schema level.
func (r *AssignmentRepo) WithTx(ctx context.Context, fn func(tx service.AssignmentTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&assignmentTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateOutlet inserts an outlet row
func (r *AssignmentRepo) CreateOutlet(ctx context.Context, o *db.Outlet) error {
	query := `
		INSERT INTO outlets (id, name, address, contact_name, contact_phone, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query, o.ID, o.Name, o.Address, o.ContactName, o.ContactPhone, o.IsActive).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create outlet: %w", err)
	}
	return nil
}

// ListOutlets returns all outlets, newest first
func (r *AssignmentRepo) ListOutlets(ctx context.Context) ([]db.Outlet, error) {
	query := `
		SELECT id, name, address, contact_name, contact_phone, is_active, created_at
		FROM outlets
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list outlets: %w", err)
	}
	defer rows.Close()

	var outlets []db.Outlet
	for rows.Next() {
		var o db.Outlet
		if err := rows.Scan(&o.ID, &o.Name, &o.Address, &o.ContactName, &o.ContactPhone, &o.IsActive, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outlet: %w", err)
		}
		outlets = append(outlets, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return outlets, nil
}

// CreateMachine inserts a machine row
func (r *AssignmentRepo) CreateMachine(ctx context.Context, m *db.Machine) error {
	query := `
		INSERT INTO machines (id, outlet_id, name, model, installed_at, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query, m.ID, m.OutletID, m.Name, m.Model, m.InstalledAt, m.Notes).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create machine: %w", err)
	}
	return nil
}

const machineColumns = `id, outlet_id, name, model, installed_at, notes, created_at`

// ListMachines returns all machines, newest first
func (r *AssignmentRepo) ListMachines(ctx context.Context) ([]db.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	var machines []db.Machine
	for rows.Next() {
		var m db.Machine
		if err := rows.Scan(&m.ID, &m.OutletID, &m.Name, &m.Model, &m.InstalledAt, &m.Notes, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return machines, nil
}

// GetMachine returns one machine, nil when absent
func (r *AssignmentRepo) GetMachine(ctx context.Context, id uuid.UUID) (*db.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines WHERE id = $1`

	var m db.Machine
	err := r.pool.QueryRow(ctx, query, id).Scan(&m.ID, &m.OutletID, &m.Name, &m.Model, &m.InstalledAt, &m.Notes, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query machine: %w", err)
	}
	return &m, nil
}

const assignmentColumns = `id, machine_id, device_id, is_active, assigned_at, deactivated_at`

// ListAssignments returns a machine's assignment history, newest first
func (r *AssignmentRepo) ListAssignments(ctx context.Context, machineID uuid.UUID) ([]db.DeviceAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM device_assignments
		WHERE machine_id = $1
		ORDER BY assigned_at DESC
	`

	rows, err := r.pool.Query(ctx, query, machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []db.DeviceAssignment
	for rows.Next() {
		var a db.DeviceAssignment
		if err := rows.Scan(&a.ID, &a.MachineID, &a.DeviceID, &a.IsActive, &a.AssignedAt, &a.DeactivatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return assignments, nil
}

// ActiveAssignmentForMachine returns the machine's active assignment, if any
func (r *AssignmentRepo) ActiveAssignmentForMachine(ctx context.Context, machineID uuid.UUID) (*db.DeviceAssignment, error) {
	return activeAssignmentForMachine(ctx, r.pool, machineID, false)
}

// ActiveAssignmentForDevice returns the device's active assignment, if any
func (r *AssignmentRepo) ActiveAssignmentForDevice(ctx context.Context, deviceID string) (*db.DeviceAssignment, error) {
	return activeAssignmentForDevice(ctx, r.pool, deviceID, false)
}

// assignmentTx is the transaction-scoped view used by the service layer
type assignmentTx struct {
	q pgx.Tx
}

func (t *assignmentTx) ActiveAssignmentForDevice(ctx context.Context, deviceID string) (*db.DeviceAssignment, error) {
	return activeAssignmentForDevice(ctx, t.q, deviceID, true)
}

func (t *assignmentTx) ActiveAssignmentForMachine(ctx context.Context, machineID uuid.UUID) (*db.DeviceAssignment, error) {
	return activeAssignmentForMachine(ctx, t.q, machineID, true)
}

func (t *assignmentTx) PairExists(ctx context.Context, machineID uuid.UUID, deviceID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM device_assignments WHERE machine_id = $1 AND device_id = $2)`

	var exists bool
	if err := t.q.QueryRow(ctx, query, machineID, deviceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check assignment pair: %w", err)
	}
	return exists, nil
}

func (t *assignmentTx) MachineExists(ctx context.Context, machineID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM machines WHERE id = $1)`

	var exists bool
	if err := t.q.QueryRow(ctx, query, machineID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check machine: %w", err)
	}
	return exists, nil
}

func (t *assignmentTx) GetAssignment(ctx context.Context, id uuid.UUID) (*db.DeviceAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM device_assignments WHERE id = $1 FOR UPDATE`

	var a db.DeviceAssignment
	err := t.q.QueryRow(ctx, query, id).Scan(&a.ID, &a.MachineID, &a.DeviceID, &a.IsActive, &a.AssignedAt, &a.DeactivatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	return &a, nil
}

func (t *assignmentTx) InsertAssignment(ctx context.Context, a *db.DeviceAssignment) error {
	query := `
		INSERT INTO device_assignments (id, machine_id, device_id, is_active, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := t.q.Exec(ctx, query, a.ID, a.MachineID, a.DeviceID, a.IsActive, a.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

func (t *assignmentTx) MarkInactive(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE device_assignments
		SET is_active = FALSE, deactivated_at = $2
		WHERE id = $1 AND is_active
	`

	tag, err := t.q.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrAlreadyInactive
	}
	return nil
}

func activeAssignmentForDevice(ctx context.Context, q querier, deviceID string, forUpdate bool) (*db.DeviceAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM device_assignments WHERE device_id = $1 AND is_active`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var a db.DeviceAssignment
	err := q.QueryRow(ctx, query, deviceID).Scan(&a.ID, &a.MachineID, &a.DeviceID, &a.IsActive, &a.AssignedAt, &a.DeactivatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active assignment for device: %w", err)
	}
	return &a, nil
}

func activeAssignmentForMachine(ctx context.Context, q querier, machineID uuid.UUID, forUpdate bool) (*db.DeviceAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM device_assignments WHERE machine_id = $1 AND is_active`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var a db.DeviceAssignment
	err := q.QueryRow(ctx, query, machineID).Scan(&a.ID, &a.MachineID, &a.DeviceID, &a.IsActive, &a.AssignedAt, &a.DeactivatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active assignment for machine: %w", err)
	}
	return &a, nil
}
