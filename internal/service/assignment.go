package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"go.uber.org/zap"
)

// AssignmentService tracks which physical machine a device identity
// currently represents. Every mutation runs its checks and writes on one
// transaction so a concurrent reader never observes a machine with zero or
// two active assignments mid-operation.
type AssignmentService struct {
	store  AssignmentStore
	logger *zap.Logger
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(store AssignmentStore, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{
		store:  store,
		logger: logger,
	}
}

// Assign creates an active assignment binding deviceID to machineID.
// Fails with ErrMachineAlreadyActive when the machine already has an active
// device, with ErrDeviceAlreadyActive when the device is active on any
// machine, and with ErrDuplicatePair when this (machine, device) pair ever
// existed: an inactive pair is terminal and is never reused.
func (s *AssignmentService) Assign(ctx context.Context, machineID uuid.UUID, deviceID string) (*db.DeviceAssignment, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("device identity is required")
	}

	var assignment *db.DeviceAssignment
	err := s.store.WithTx(ctx, func(tx AssignmentTx) error {
		created, err := s.assignInTx(ctx, tx, machineID, deviceID)
		if err != nil {
			return err
		}
		assignment = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("device assigned",
		zap.String("machine_id", machineID.String()),
		zap.String("device_id", deviceID),
		zap.String("assignment_id", assignment.ID.String()),
	)
	return assignment, nil
}

func (s *AssignmentService) assignInTx(ctx context.Context, tx AssignmentTx, machineID uuid.UUID, deviceID string) (*db.DeviceAssignment, error) {
	exists, err := tx.MachineExists(ctx, machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to check machine: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("machine %s: %w", machineID, ErrNotFound)
	}

	occupied, err := tx.ActiveAssignmentForMachine(ctx, machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active assignment for machine: %w", err)
	}
	if occupied != nil {
		return nil, ErrMachineAlreadyActive
	}

	paired, err := tx.PairExists(ctx, machineID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check assignment pair: %w", err)
	}
	if paired {
		return nil, ErrDuplicatePair
	}

	active, err := tx.ActiveAssignmentForDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active assignment for device: %w", err)
	}
	if active != nil {
		return nil, ErrDeviceAlreadyActive
	}

	assignment := &db.DeviceAssignment{
		ID:         uuid.New(),
		MachineID:  machineID,
		DeviceID:   deviceID,
		IsActive:   true,
		AssignedAt: time.Now(),
	}
	if err := tx.InsertAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}
	return assignment, nil
}

// Deactivate transitions an assignment Active → Inactive and stamps the
// deactivation instant. Inactive is terminal: a second deactivation fails
// with ErrAlreadyInactive instead of touching the row.
func (s *AssignmentService) Deactivate(ctx context.Context, assignmentID uuid.UUID) error {
	err := s.store.WithTx(ctx, func(tx AssignmentTx) error {
		assignment, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return fmt.Errorf("failed to load assignment: %w", err)
		}
		if assignment == nil {
			return fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
		}
		if !assignment.IsActive {
			return ErrAlreadyInactive
		}
		return tx.MarkInactive(ctx, assignmentID, time.Now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("assignment deactivated", zap.String("assignment_id", assignmentID.String()))
	return nil
}

// Reassign swaps the machine's device: it deactivates the machine's current
// active assignment (if any) and creates a new active assignment for
// newDeviceID, as one transaction. On any failure nothing changes, so the
// machine keeps its prior device.
func (s *AssignmentService) Reassign(ctx context.Context, machineID uuid.UUID, newDeviceID string) (*db.DeviceAssignment, error) {
	newDeviceID = strings.TrimSpace(newDeviceID)
	if newDeviceID == "" {
		return nil, fmt.Errorf("device identity is required")
	}

	var assignment *db.DeviceAssignment
	err := s.store.WithTx(ctx, func(tx AssignmentTx) error {
		current, err := tx.ActiveAssignmentForMachine(ctx, machineID)
		if err != nil {
			return fmt.Errorf("failed to load current assignment: %w", err)
		}
		if current != nil {
			if current.DeviceID == newDeviceID {
				// Deactivate-then-assign would hit the unique pair
				// constraint anyway; reject before touching the row.
				return ErrDuplicatePair
			}
			if err := tx.MarkInactive(ctx, current.ID, time.Now()); err != nil {
				return fmt.Errorf("failed to deactivate current assignment: %w", err)
			}
		}

		created, err := s.assignInTx(ctx, tx, machineID, newDeviceID)
		if err != nil {
			return err
		}
		assignment = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("device reassigned",
		zap.String("machine_id", machineID.String()),
		zap.String("device_id", newDeviceID),
	)
	return assignment, nil
}

// CurrentDevice returns the identity of the machine's active device, or
// ("", false) when the machine has none.
func (s *AssignmentService) CurrentDevice(ctx context.Context, machineID uuid.UUID) (string, bool, error) {
	assignment, err := s.store.ActiveAssignmentForMachine(ctx, machineID)
	if err != nil {
		return "", false, err
	}
	if assignment == nil {
		return "", false, nil
	}
	return assignment.DeviceID, true, nil
}

// CurrentMachine returns the active assignment for a device identity, if any
func (s *AssignmentService) CurrentMachine(ctx context.Context, deviceID string) (*db.DeviceAssignment, error) {
	return s.store.ActiveAssignmentForDevice(ctx, deviceID)
}

// CreateOutlet registers a physical site
func (s *AssignmentService) CreateOutlet(ctx context.Context, outlet *db.Outlet) error {
	if strings.TrimSpace(outlet.Name) == "" {
		return fmt.Errorf("outlet name is required")
	}
	if outlet.ID == uuid.Nil {
		outlet.ID = uuid.New()
	}
	outlet.IsActive = true
	return s.store.CreateOutlet(ctx, outlet)
}

// ListOutlets returns all registered outlets
func (s *AssignmentService) ListOutlets(ctx context.Context) ([]db.Outlet, error) {
	return s.store.ListOutlets(ctx)
}

// CreateMachine registers a machine at an outlet
func (s *AssignmentService) CreateMachine(ctx context.Context, machine *db.Machine) error {
	if strings.TrimSpace(machine.Name) == "" {
		return fmt.Errorf("machine name is required")
	}
	if machine.ID == uuid.Nil {
		machine.ID = uuid.New()
	}
	return s.store.CreateMachine(ctx, machine)
}

// ListMachines returns all registered machines
func (s *AssignmentService) ListMachines(ctx context.Context) ([]db.Machine, error) {
	return s.store.ListMachines(ctx)
}

// GetMachine returns one machine
func (s *AssignmentService) GetMachine(ctx context.Context, id uuid.UUID) (*db.Machine, error) {
	machine, err := s.store.GetMachine(ctx, id)
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	return machine, nil
}

// ListAssignments returns a machine's assignment history
func (s *AssignmentService) ListAssignments(ctx context.Context, machineID uuid.UUID) ([]db.DeviceAssignment, error) {
	return s.store.ListAssignments(ctx, machineID)
}
