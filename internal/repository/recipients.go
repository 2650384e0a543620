package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

// RecipientRepository resolves who receives notifications.
type RecipientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRecipientRepository(db *sql.DB, logger *zap.Logger) *RecipientRepository {
	return &RecipientRepository{
		db:     db,
		logger: logger,
	}
}

// ListAlarmRecipients returns group members that should get the given alarm: alerts on,
// confirmed address, active account, and not opted out of this alarm id.
func (r *RecipientRepository) ListAlarmRecipients(ctx context.Context, groupID int64, alarmID int) ([]*models.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.email_confirmed, u.alerts_enabled, u.is_active
		FROM users u
		JOIN group_members gm ON gm.user_id = u.id
		WHERE gm.group_id = $1
		  AND u.alerts_enabled = TRUE
		  AND u.email_confirmed = TRUE
		  AND u.is_active = TRUE
		  AND u.email <> ''
		  AND NOT EXISTS (
			SELECT 1 FROM alarm_optouts o WHERE o.user_id = u.id AND o.alarm_id = $2
		  )
		ORDER BY u.id`,
		groupID, alarmID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarm recipients: %w", err)
	}
	defer rows.Close()

	var out []*models.Recipient
	for rows.Next() {
		var rc models.Recipient
		if err := rows.Scan(&rc.UserID, &rc.Name, &rc.Email, &rc.EmailConfirmed, &rc.AlertsEnabled, &rc.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		out = append(out, &rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipients: %w", err)
	}
	return out, nil
}

// GetReminderRecipient loads a reminder owner. It returns nil when the user is gone.
func (r *RecipientRepository) GetReminderRecipient(ctx context.Context, userID int64) (*models.Recipient, error) {
	var rc models.Recipient
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, email_confirmed, alerts_enabled, is_active
		FROM users WHERE id = $1`,
		userID,
	).Scan(&rc.UserID, &rc.Name, &rc.Email, &rc.EmailConfirmed, &rc.AlertsEnabled, &rc.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query reminder recipient: %w", err)
	}
	return &rc, nil
}

// GroupName returns the display name of a group, empty when unknown.
func (r *RecipientRepository) GroupName(ctx context.Context, groupID int64) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM groups WHERE id = $1`, groupID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query group name: %w", err)
	}
	return name, nil
}
