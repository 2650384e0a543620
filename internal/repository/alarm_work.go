package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

// AlarmWorkRepository is the alarm notification work queue.
type AlarmWorkRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAlarmWorkRepository(db *sql.DB, logger *zap.Logger) *AlarmWorkRepository {
	return &AlarmWorkRepository{
		db:     db,
		logger: logger,
	}
}

// CreateIfNotPending inserts a work item unless a not-done item already exists for the
// same (device, alarm). created is false when one was already pending.
func (r *AlarmWorkRepository) CreateIfNotPending(ctx context.Context, deviceID string, alarmID int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO alarm_work (device_id, alarm_id, created_at, done)
		SELECT $1, $2, $3, FALSE
		WHERE NOT EXISTS (
			SELECT 1 FROM alarm_work WHERE device_id = $1 AND alarm_id = $2 AND done = FALSE
		)
		ON CONFLICT (device_id, alarm_id) WHERE done = FALSE DO NOTHING`,
		deviceID, alarmID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create alarm work: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListPending returns not-done items, oldest first.
func (r *AlarmWorkRepository) ListPending(ctx context.Context, limit int) ([]*models.AlarmWorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, alarm_id, created_at, done, actually_sent_at
		FROM alarm_work
		WHERE done = FALSE
		ORDER BY created_at, id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending alarm work: %w", err)
	}
	defer rows.Close()

	var out []*models.AlarmWorkItem
	for rows.Next() {
		var (
			w      models.AlarmWorkItem
			sentAt sql.NullTime
		)
		if err := rows.Scan(&w.ID, &w.DeviceID, &w.AlarmID, &w.CreatedAt, &w.Done, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan alarm work: %w", err)
		}
		w.ActuallySentAt = timePtr(sentAt)
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm work: %w", err)
	}
	return out, nil
}

// Claim marks the item done if it still is not. Only the caller that gets true may process
// it, so overlapping scheduler passes never double-send.
func (r *AlarmWorkRepository) Claim(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alarm_work SET done = TRUE WHERE id = $1 AND done = FALSE`, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim alarm work: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim alarm work: %w", err)
	}
	return n == 1, nil
}

// MarkSent records when notifications went out.
func (r *AlarmWorkRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alarm_work SET actually_sent_at = $2 WHERE id = $1`, id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark alarm work sent: %w", err)
	}
	return nil
}

// SentRecently reports whether another item for the same (device, alarm) was sent after since.
func (r *AlarmWorkRepository) SentRecently(ctx context.Context, deviceID string, alarmID int, since time.Time, excludeID int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM alarm_work
		WHERE device_id = $1
		  AND alarm_id = $2
		  AND done = TRUE
		  AND actually_sent_at > $3
		  AND id <> $4`,
		deviceID, alarmID, since, excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query recent alarm sends: %w", err)
	}
	return count > 0, nil
}
