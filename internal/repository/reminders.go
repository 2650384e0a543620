package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

// ReminderRepository reads and reschedules maintenance reminders.
type ReminderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewReminderRepository(db *sql.DB, logger *zap.Logger) *ReminderRepository {
	return &ReminderRepository{
		db:     db,
		logger: logger,
	}
}

// ListDue returns enabled reminders whose next due time is before now.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, device_id, title, message, period_months, enabled, next_due, last_sent
		FROM reminders
		WHERE enabled = TRUE AND next_due < $1
		ORDER BY next_due, id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		var (
			rm       models.Reminder
			lastSent sql.NullTime
		)
		if err := rows.Scan(&rm.ID, &rm.UserID, &rm.DeviceID, &rm.Title, &rm.Message,
			&rm.PeriodMonths, &rm.Enabled, &rm.NextDue, &lastSent); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		rm.LastSent = timePtr(lastSent)
		out = append(out, &rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return out, nil
}

// Reschedule moves the reminder to its next due time. The period is rewritten so test
// reminders become monthly. The update only applies if next_due is unchanged, so two
// overlapping passes reschedule once.
func (r *ReminderRepository) Reschedule(ctx context.Context, rm *models.Reminder, nextDue time.Time, sentAt *time.Time) (bool, error) {
	period := rm.PeriodMonths
	if period < 1 {
		period = 1
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET next_due = $2, last_sent = COALESCE($3, last_sent), period_months = $4
		WHERE id = $1 AND next_due = $5`,
		rm.ID, nextDue, nullTime(sentAt), period, rm.NextDue,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule reminder: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
