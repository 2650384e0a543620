package models

import "time"

// HistoryEntry is an immutable telemetry record.
type HistoryEntry struct {
	ID        int64
	DeviceID  string
	Timestamp time.Time
	Attribute string // column name
	Value     string
}

// HistoryRange selects entries for admin copy/delete operations. Zero times are open bounds.
type HistoryRange struct {
	DeviceID   string
	Attributes []string
	From       time.Time
	To         time.Time
}

// Bounded reports whether both ends of the time range are set.
func (r HistoryRange) Bounded() bool {
	return !r.From.IsZero() && !r.To.IsZero()
}
