package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

// StatusStore persists the per-device status rows
type StatusStore interface {
	// Upsert creates or updates the row for deviceID. Nil patch fields
	// leave the stored columns untouched.
	Upsert(ctx context.Context, deviceID string, patch telemetry.StatusPatch) error
	Get(ctx context.Context, deviceID string) (*db.DeviceStatus, error)
	List(ctx context.Context) ([]db.DeviceStatus, error)
	// SetCurrentCounts persists the ledger-derived counter cache.
	SetCurrentCounts(ctx context.Context, deviceID string, basic, standard, premium int64) error
	Wipe(ctx context.Context) error
}

// EventFilter narrows a ledger query. Zero values mean unfiltered.
type EventFilter struct {
	DeviceID string
	Kind     telemetry.ReportKind
	From     time.Time
	To       time.Time
	Limit    int
}

// EventLedger is the append-only store of usage events and the source of
// truth for all counts.
type EventLedger interface {
	Append(ctx context.Context, event *db.TelemetryEvent) (int64, error)
	// Query returns events ordered by occurrence instant descending,
	// insertion order descending on ties.
	Query(ctx context.Context, filter EventFilter) ([]db.TelemetryEvent, error)
	CountByKind(ctx context.Context, deviceID string, kind telemetry.ReportKind) (int64, error)
	// KindCounts returns the per-kind event counts for one device in a
	// single pass, for reconciliation.
	KindCounts(ctx context.Context, deviceID string) (basic, standard, premium int64, err error)
	Wipe(ctx context.Context) error
}

// UsageStore persists the daily rollup rows
type UsageStore interface {
	// Apply increments the per-kind and total counters of the
	// (deviceID, date) row, creating it if missing, and extends the
	// first/last occurrence bounds to include occurredAt.
	Apply(ctx context.Context, deviceID string, date time.Time, kind telemetry.ReportKind, occurredAt time.Time) error
	// Replace overwrites the (deviceID, date) row with row's contents.
	Replace(ctx context.Context, row *db.DailyUsage) error
	Delete(ctx context.Context, deviceID string, date time.Time) error
	Get(ctx context.Context, deviceID string, date time.Time) (*db.DailyUsage, error)
	Query(ctx context.Context, deviceID string, from, to time.Time) ([]db.DailyUsage, error)
	Wipe(ctx context.Context) error
}

// AssignmentTx is the transaction-scoped view of the assignment tables.
// The invariant checks and writes of one operation all run on the same
// transaction so check-then-act races are excluded.
type AssignmentTx interface {
	ActiveAssignmentForDevice(ctx context.Context, deviceID string) (*db.DeviceAssignment, error)
	ActiveAssignmentForMachine(ctx context.Context, machineID uuid.UUID) (*db.DeviceAssignment, error)
	PairExists(ctx context.Context, machineID uuid.UUID, deviceID string) (bool, error)
	MachineExists(ctx context.Context, machineID uuid.UUID) (bool, error)
	GetAssignment(ctx context.Context, id uuid.UUID) (*db.DeviceAssignment, error)
	InsertAssignment(ctx context.Context, a *db.DeviceAssignment) error
	MarkInactive(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AssignmentStore persists outlets, machines and device assignments
type AssignmentStore interface {
	WithTx(ctx context.Context, fn func(tx AssignmentTx) error) error

	CreateOutlet(ctx context.Context, o *db.Outlet) error
	ListOutlets(ctx context.Context) ([]db.Outlet, error)
	CreateMachine(ctx context.Context, m *db.Machine) error
	ListMachines(ctx context.Context) ([]db.Machine, error)
	GetMachine(ctx context.Context, id uuid.UUID) (*db.Machine, error)
	ListAssignments(ctx context.Context, machineID uuid.UUID) ([]db.DeviceAssignment, error)
	ActiveAssignmentForMachine(ctx context.Context, machineID uuid.UUID) (*db.DeviceAssignment, error)
	ActiveAssignmentForDevice(ctx context.Context, deviceID string) (*db.DeviceAssignment, error)
}
