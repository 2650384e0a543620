package models

import "time"

// Reminder is a recurring maintenance notice for one device owned by one user.
type Reminder struct {
	ID           int64
	UserID       int64
	DeviceID     string
	Title        string
	Message      string
	PeriodMonths int
	Enabled      bool
	NextDue      time.Time
	LastSent     *time.Time
}

// NextDueAfter returns the next due time counted from basis. Periods below one month
// (test reminders) are treated as monthly.
func (r *Reminder) NextDueAfter(basis time.Time) time.Time {
	period := r.PeriodMonths
	if period < 1 {
		period = 1
	}
	return basis.AddDate(0, period, 0)
}

// Recipient is a user that can receive notifications.
type Recipient struct {
	UserID         int64
	Name           string
	Email          string
	EmailConfirmed bool
	AlertsEnabled  bool
	IsActive       bool
}

// Reachable reports whether a message can be delivered at all.
func (r *Recipient) Reachable() bool {
	return r.AlertsEnabled && r.EmailConfirmed && r.IsActive && r.Email != ""
}
