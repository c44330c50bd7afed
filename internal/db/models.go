package db

import (
	"time"

	"github.com/google/uuid"
)

// DeviceStatus is the current-state row for one device identity. The
// current_count_* columns cache the device counters: reports write their
// running totals into them best-effort, and reconciliation overwrites them
// with the ledger-derived truth.
type DeviceStatus struct {
	DeviceID             string    `json:"device_id"`
	LastSeen             time.Time `json:"last_seen"`
	WifiConnected        bool      `json:"wifi_connected"`
	RTCAvailable         bool      `json:"rtc_available"`
	StorageAvailable     bool      `json:"storage_available"`
	CurrentCountBasic    int64     `json:"current_count_basic"`
	CurrentCountStandard int64     `json:"current_count_standard"`
	CurrentCountPremium  int64     `json:"current_count_premium"`
	DeviceTimestamp      *string   `json:"device_timestamp,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TelemetryEvent is one immutable row in the event ledger
type TelemetryEvent struct {
	ID               int64     `json:"id"`
	DeviceID         string    `json:"device_id"`
	EventKind        string    `json:"event_kind"`
	CountBasic       *int64    `json:"count_basic,omitempty"`
	CountStandard    *int64    `json:"count_standard,omitempty"`
	CountPremium     *int64    `json:"count_premium,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
	DeviceTimestamp  *string   `json:"device_timestamp,omitempty"`
	WifiConnected    *bool     `json:"wifi_connected,omitempty"`
	RTCAvailable     *bool     `json:"rtc_available,omitempty"`
	StorageAvailable *bool     `json:"storage_available,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

// DailyUsage is one rollup row per (device, calendar date)
type DailyUsage struct {
	DeviceID      string     `json:"device_id"`
	UsageDate     time.Time  `json:"usage_date"`
	BasicCount    int64      `json:"basic_count"`
	StandardCount int64      `json:"standard_count"`
	PremiumCount  int64      `json:"premium_count"`
	TotalEvents   int64      `json:"total_events"`
	FirstEvent    *time.Time `json:"first_event,omitempty"`
	LastEvent     *time.Time `json:"last_event,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Outlet is a physical site hosting machines
type Outlet struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Address      *string   `json:"address,omitempty"`
	ContactName  *string   `json:"contact_name,omitempty"`
	ContactPhone *string   `json:"contact_phone,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Machine is a logical unit installed at an outlet
type Machine struct {
	ID          uuid.UUID  `json:"id"`
	OutletID    uuid.UUID  `json:"outlet_id"`
	Name        string     `json:"name"`
	Model       *string    `json:"model,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DeviceAssignment binds a device identity to a machine for a span of time
type DeviceAssignment struct {
	ID            uuid.UUID  `json:"id"`
	MachineID     uuid.UUID  `json:"machine_id"`
	DeviceID      string     `json:"device_id"`
	IsActive      bool       `json:"is_active"`
	AssignedAt    time.Time  `json:"assigned_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}
