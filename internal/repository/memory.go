package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
)

// In-memory store implementations with the same contracts as the postgres
// repositories. Used by tests and by local development without a database.

// MemStatusRepo is an in-memory StatusStore
type MemStatusRepo struct {
	mu   sync.Mutex
	rows map[string]*db.DeviceStatus
}

// NewMemStatusRepo creates an empty in-memory status store
func NewMemStatusRepo() *MemStatusRepo {
	return &MemStatusRepo{rows: make(map[string]*db.DeviceStatus)}
}

func (m *MemStatusRepo) Upsert(_ context.Context, deviceID string, patch telemetry.StatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[deviceID]
	if !ok {
		row = &db.DeviceStatus{DeviceID: deviceID, CreatedAt: patch.LastSeen}
		m.rows[deviceID] = row
	}
	row.LastSeen = patch.LastSeen
	row.UpdatedAt = patch.LastSeen
	if patch.WifiConnected != nil {
		row.WifiConnected = *patch.WifiConnected
	}
	if patch.RTCAvailable != nil {
		row.RTCAvailable = *patch.RTCAvailable
	}
	if patch.StorageAvailable != nil {
		row.StorageAvailable = *patch.StorageAvailable
	}
	if patch.CountBasic != nil {
		row.CurrentCountBasic = *patch.CountBasic
	}
	if patch.CountStandard != nil {
		row.CurrentCountStandard = *patch.CountStandard
	}
	if patch.CountPremium != nil {
		row.CurrentCountPremium = *patch.CountPremium
	}
	if patch.DeviceTimestamp != nil {
		ts := *patch.DeviceTimestamp
		row.DeviceTimestamp = &ts
	}
	return nil
}

func (m *MemStatusRepo) Get(_ context.Context, deviceID string) (*db.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[deviceID]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (m *MemStatusRepo) List(_ context.Context) ([]db.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]db.DeviceStatus, 0, len(m.rows))
	for _, row := range m.rows {
		statuses = append(statuses, *row)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].LastSeen.After(statuses[j].LastSeen)
	})
	return statuses, nil
}

func (m *MemStatusRepo) SetCurrentCounts(_ context.Context, deviceID string, basic, standard, premium int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row, ok := m.rows[deviceID]; ok {
		row.CurrentCountBasic = basic
		row.CurrentCountStandard = standard
		row.CurrentCountPremium = premium
	}
	return nil
}

func (m *MemStatusRepo) Wipe(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[string]*db.DeviceStatus)
	return nil
}

// MemLedgerRepo is an in-memory EventLedger
type MemLedgerRepo struct {
	mu     sync.Mutex
	nextID int64
	events []db.TelemetryEvent

	// AppendErr, when set, fails the next Append. Lets tests simulate a
	// storage fault at the durability boundary.
	AppendErr error
}

// NewMemLedgerRepo creates an empty in-memory event ledger
func NewMemLedgerRepo() *MemLedgerRepo {
	return &MemLedgerRepo{}
}

func (m *MemLedgerRepo) Append(_ context.Context, event *db.TelemetryEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		err := m.AppendErr
		m.AppendErr = nil
		return 0, err
	}

	m.nextID++
	ev := *event
	ev.ID = m.nextID
	m.events = append(m.events, ev)
	return ev.ID, nil
}

func (m *MemLedgerRepo) Query(_ context.Context, filter service.EventFilter) ([]db.TelemetryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []db.TelemetryEvent
	for _, ev := range m.events {
		if filter.DeviceID != "" && ev.DeviceID != filter.DeviceID {
			continue
		}
		if filter.Kind != "" && ev.EventKind != string(filter.Kind) {
			continue
		}
		if !filter.From.IsZero() && ev.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !ev.OccurredAt.Before(filter.To) {
			continue
		}
		matched = append(matched, ev)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *MemLedgerRepo) CountByKind(_ context.Context, deviceID string, kind telemetry.ReportKind) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, ev := range m.events {
		if ev.DeviceID == deviceID && ev.EventKind == string(kind) {
			count++
		}
	}
	return count, nil
}

func (m *MemLedgerRepo) KindCounts(_ context.Context, deviceID string) (basic, standard, premium int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range m.events {
		if ev.DeviceID != deviceID {
			continue
		}
		switch telemetry.ReportKind(ev.EventKind) {
		case telemetry.KindBasic:
			basic++
		case telemetry.KindStandard:
			standard++
		case telemetry.KindPremium:
			premium++
		}
	}
	return basic, standard, premium, nil
}

func (m *MemLedgerRepo) Wipe(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	return nil
}

// MemUsageRepo is an in-memory UsageStore
type MemUsageRepo struct {
	mu   sync.Mutex
	rows map[string]*db.DailyUsage

	// ApplyErr, when set, fails the next Apply. Lets tests simulate a
	// rollup fault after the ledger append.
	ApplyErr error
}

// NewMemUsageRepo creates an empty in-memory usage store
func NewMemUsageRepo() *MemUsageRepo {
	return &MemUsageRepo{rows: make(map[string]*db.DailyUsage)}
}

func usageKey(deviceID string, date time.Time) string {
	return deviceID + "|" + date.Format("2006-01-02")
}

func (m *MemUsageRepo) Apply(_ context.Context, deviceID string, date time.Time, kind telemetry.ReportKind, occurredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ApplyErr != nil {
		err := m.ApplyErr
		m.ApplyErr = nil
		return err
	}

	key := usageKey(deviceID, date)
	row, ok := m.rows[key]
	if !ok {
		row = &db.DailyUsage{DeviceID: deviceID, UsageDate: date}
		m.rows[key] = row
	}
	switch kind {
	case telemetry.KindBasic:
		row.BasicCount++
	case telemetry.KindStandard:
		row.StandardCount++
	case telemetry.KindPremium:
		row.PremiumCount++
	}
	row.TotalEvents++
	if row.FirstEvent == nil || occurredAt.Before(*row.FirstEvent) {
		t := occurredAt
		row.FirstEvent = &t
	}
	if row.LastEvent == nil || occurredAt.After(*row.LastEvent) {
		t := occurredAt
		row.LastEvent = &t
	}
	row.UpdatedAt = occurredAt
	return nil
}

func (m *MemUsageRepo) Replace(_ context.Context, row *db.DailyUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *row
	m.rows[usageKey(row.DeviceID, row.UsageDate)] = &copied
	return nil
}

func (m *MemUsageRepo) Delete(_ context.Context, deviceID string, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, usageKey(deviceID, date))
	return nil
}

func (m *MemUsageRepo) Get(_ context.Context, deviceID string, date time.Time) (*db.DailyUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[usageKey(deviceID, date)]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (m *MemUsageRepo) Query(_ context.Context, deviceID string, from, to time.Time) ([]db.DailyUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var usage []db.DailyUsage
	for _, row := range m.rows {
		if row.DeviceID != deviceID || row.UsageDate.Before(from) || row.UsageDate.After(to) {
			continue
		}
		usage = append(usage, *row)
	}
	sort.Slice(usage, func(i, j int) bool {
		return usage[i].UsageDate.After(usage[j].UsageDate)
	})
	return usage, nil
}

func (m *MemUsageRepo) Wipe(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[string]*db.DailyUsage)
	return nil
}

// MemAssignmentRepo is an in-memory AssignmentStore. WithTx snapshots the
// assignment table and restores it when fn fails, mirroring the rollback
// behavior of the postgres implementation.
type MemAssignmentRepo struct {
	mu          sync.Mutex
	outlets     []db.Outlet
	machines    map[uuid.UUID]*db.Machine
	assignments map[uuid.UUID]*db.DeviceAssignment
}

// NewMemAssignmentRepo creates an empty in-memory assignment store
func NewMemAssignmentRepo() *MemAssignmentRepo {
	return &MemAssignmentRepo{
		machines:    make(map[uuid.UUID]*db.Machine),
		assignments: make(map[uuid.UUID]*db.DeviceAssignment),
	}
}

func (m *MemAssignmentRepo) WithTx(_ context.Context, fn func(tx service.AssignmentTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[uuid.UUID]*db.DeviceAssignment, len(m.assignments))
	for id, a := range m.assignments {
		copied := *a
		snapshot[id] = &copied
	}

	if err := fn(&memAssignmentTx{repo: m}); err != nil {
		m.assignments = snapshot
		return err
	}
	return nil
}

func (m *MemAssignmentRepo) CreateOutlet(_ context.Context, o *db.Outlet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	m.outlets = append(m.outlets, *o)
	return nil
}

func (m *MemAssignmentRepo) ListOutlets(_ context.Context) ([]db.Outlet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.Outlet(nil), m.outlets...), nil
}

func (m *MemAssignmentRepo) CreateMachine(_ context.Context, machine *db.Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if machine.CreatedAt.IsZero() {
		machine.CreatedAt = time.Now()
	}
	copied := *machine
	m.machines[machine.ID] = &copied
	return nil
}

func (m *MemAssignmentRepo) ListMachines(_ context.Context) ([]db.Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	machines := make([]db.Machine, 0, len(m.machines))
	for _, machine := range m.machines {
		machines = append(machines, *machine)
	}
	sort.Slice(machines, func(i, j int) bool {
		return machines[i].CreatedAt.After(machines[j].CreatedAt)
	})
	return machines, nil
}

func (m *MemAssignmentRepo) GetMachine(_ context.Context, id uuid.UUID) (*db.Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	machine, ok := m.machines[id]
	if !ok {
		return nil, nil
	}
	copied := *machine
	return &copied, nil
}

func (m *MemAssignmentRepo) ListAssignments(_ context.Context, machineID uuid.UUID) ([]db.DeviceAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var assignments []db.DeviceAssignment
	for _, a := range m.assignments {
		if a.MachineID == machineID {
			assignments = append(assignments, *a)
		}
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.After(assignments[j].AssignedAt)
	})
	return assignments, nil
}

func (m *MemAssignmentRepo) ActiveAssignmentForMachine(_ context.Context, machineID uuid.UUID) (*db.DeviceAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memAssignmentTx{repo: m}).activeForMachine(machineID), nil
}

func (m *MemAssignmentRepo) ActiveAssignmentForDevice(_ context.Context, deviceID string) (*db.DeviceAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memAssignmentTx{repo: m}).activeForDevice(deviceID), nil
}

// memAssignmentTx operates on the repo under the lock WithTx already holds
type memAssignmentTx struct {
	repo *MemAssignmentRepo
}

func (t *memAssignmentTx) activeForDevice(deviceID string) *db.DeviceAssignment {
	for _, a := range t.repo.assignments {
		if a.DeviceID == deviceID && a.IsActive {
			copied := *a
			return &copied
		}
	}
	return nil
}

func (t *memAssignmentTx) activeForMachine(machineID uuid.UUID) *db.DeviceAssignment {
	for _, a := range t.repo.assignments {
		if a.MachineID == machineID && a.IsActive {
			copied := *a
			return &copied
		}
	}
	return nil
}

func (t *memAssignmentTx) ActiveAssignmentForDevice(_ context.Context, deviceID string) (*db.DeviceAssignment, error) {
	return t.activeForDevice(deviceID), nil
}

func (t *memAssignmentTx) ActiveAssignmentForMachine(_ context.Context, machineID uuid.UUID) (*db.DeviceAssignment, error) {
	return t.activeForMachine(machineID), nil
}

func (t *memAssignmentTx) PairExists(_ context.Context, machineID uuid.UUID, deviceID string) (bool, error) {
	for _, a := range t.repo.assignments {
		if a.MachineID == machineID && a.DeviceID == deviceID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memAssignmentTx) MachineExists(_ context.Context, machineID uuid.UUID) (bool, error) {
	_, ok := t.repo.machines[machineID]
	return ok, nil
}

func (t *memAssignmentTx) GetAssignment(_ context.Context, id uuid.UUID) (*db.DeviceAssignment, error) {
	a, ok := t.repo.assignments[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (t *memAssignmentTx) InsertAssignment(_ context.Context, a *db.DeviceAssignment) error {
	copied := *a
	t.repo.assignments[a.ID] = &copied
	return nil
}

func (t *memAssignmentTx) MarkInactive(_ context.Context, id uuid.UUID, at time.Time) error {
	a, ok := t.repo.assignments[id]
	if !ok || !a.IsActive {
		return service.ErrAlreadyInactive
	}
	a.IsActive = false
	deactivated := at
	a.DeactivatedAt = &deactivated
	return nil
}
