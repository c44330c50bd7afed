package service

import "errors"

var (
	// ErrInvalidReport rejects a report with no device identity. All other
	// malformed fields degrade instead of failing the report.
	ErrInvalidReport = errors.New("invalid report: missing device identity")

	// ErrDeviceAlreadyActive rejects an assignment for a device that is
	// actively assigned to some machine.
	ErrDeviceAlreadyActive = errors.New("device already has an active assignment")

	// ErrMachineAlreadyActive rejects an assignment for a machine that
	// already has an active device. Reassign is the swap operation.
	ErrMachineAlreadyActive = errors.New("machine already has an active device")

	// ErrDuplicatePair rejects re-creating an assignment for a
	// (machine, device) pair that already exists, active or not.
	ErrDuplicatePair = errors.New("assignment already exists for this machine and device")

	// ErrAlreadyInactive rejects deactivating an assignment twice.
	ErrAlreadyInactive = errors.New("assignment is already inactive")

	// ErrNotFound reports a missing outlet, machine or assignment.
	ErrNotFound = errors.New("not found")
)
