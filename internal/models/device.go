package models

import "time"

// LifecycleState of a device record. Devices are never hard-deleted.
type LifecycleState int

const (
	LifecycleActive LifecycleState = iota + 1
	LifecycleDeactivated
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleActive:
		return "active"
	case LifecycleDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Device is the identity and lifecycle row of a pump controller.
// Per-attribute telemetry lives in the snapshot table.
type Device struct {
	ID                   int64
	DeviceID             string
	Name                 string
	GroupID              *int64 // nil = unassigned group
	IsActive             bool
	Suspended            bool
	Connection           bool
	LastSeen             *time.Time
	DisconnectionNoticed bool
	CredentialsRef       string
	UpdatedAt            time.Time
}

// State derives the lifecycle state from the active flag.
func (d *Device) State() LifecycleState {
	if d.IsActive {
		return LifecycleActive
	}
	return LifecycleDeactivated
}

// Unassigned reports whether the device belongs to no group.
func (d *Device) Unassigned() bool {
	return d.GroupID == nil
}

// Transition describes the field resets a lifecycle change requires.
type Transition struct {
	From               LifecycleState
	To                 LifecycleState
	ResetAlarmBaseline bool
}

// Transition moves the device to the given state and applies the transient field
// resets in place. It returns false when the device is already in that state.
//
// Reanimation clears the credentials reference (the provisioning side issues new ones)
// and asks the store to reset the alarm bitfield baseline to zero.
// Deactivation releases the group and suspension.
func (d *Device) Transition(to LifecycleState) (Transition, bool) {
	from := d.State()
	if from == to {
		return Transition{From: from, To: to}, false
	}

	t := Transition{From: from, To: to}
	switch to {
	case LifecycleActive:
		d.IsActive = true
		d.CredentialsRef = ""
		t.ResetAlarmBaseline = true
	case LifecycleDeactivated:
		d.IsActive = false
		d.GroupID = nil
		d.Suspended = false
		t.ResetAlarmBaseline = true
	}
	return t, true
}

// Valid device ID length bounds.
const (
	DeviceIDMinLength = 8
	DeviceIDMaxLength = 24
)
