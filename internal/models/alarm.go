package models

import (
	"fmt"
	"time"
)

// alarmNames is indexed by bit number in the AlarmStatus bitfield. These are not the
// firmware's internal alarm IDs.
var alarmNames = [...]string{
	"Relay Ctrl Mode", // bit 0
	"Low tank shutoff",
	"Low tank notify",
	"Analog In",
	"Modbus Comms",
	"Flow Accuracy",
	"Count not achieved",
	"Input 1",
	"Input 2",
	"Temperature",
	"Low battery",
	"Disabled by remote",
	"High pressure",
	"Low pressure",
	"Over current",
	"Solenoid 1",
	"Solenoid 2",
	"Solenoid 3",
	"Solenoid 4",
	"Solenoid 5",
	"Solenoid 6",
	"Solenoid 7",
	"Solenoid 8",
}

const (
	// AlarmIDDefault marks a work item created without a real alarm.
	AlarmIDDefault = -1
	// AlarmDisconnection is the pseudo-alarm raised by the disconnect sweep.
	AlarmDisconnection = -2

	// AlarmBitWidth is the number of bits edge detection inspects.
	AlarmBitWidth = 32
)

// alarms that toggling off on the device cannot clear; they bypass the cool-down
var manuallyCleared = map[int]struct{}{
	1: {}, 3: {}, 5: {}, 6: {}, 7: {}, 8: {}, 12: {}, 13: {},
}

// AlarmCount is the number of named alarm bits.
func AlarmCount() int { return len(alarmNames) }

// AlarmName returns the display name for an alarm id, pseudo-alarms included.
func AlarmName(alarmID int) string {
	switch {
	case alarmID == AlarmDisconnection:
		return "Pump no longer connected"
	case alarmID >= 0 && alarmID < len(alarmNames):
		return alarmNames[alarmID]
	default:
		return fmt.Sprintf("Alarm %d", alarmID)
	}
}

// RequiresManualClear reports whether the alarm bypasses the resend cool-down.
func RequiresManualClear(alarmID int) bool {
	_, ok := manuallyCleared[alarmID]
	return ok
}

// ActiveAlarms lists the named bits set in a bitfield.
func ActiveAlarms(bitfield uint32) []int {
	var out []int
	for bit := 0; bit < len(alarmNames); bit++ {
		if bitfield&(1<<uint(bit)) != 0 {
			out = append(out, bit)
		}
	}
	return out
}

// AlarmWorkItem is one queued alarm notification.
type AlarmWorkItem struct {
	ID             int64
	DeviceID       string
	AlarmID        int
	CreatedAt      time.Time
	Done           bool
	ActuallySentAt *time.Time
}
