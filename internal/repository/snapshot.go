package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SnapshotRepository holds the last accepted value per (device, attribute).
type SnapshotRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSnapshotRepository(db *sql.DB, logger *zap.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:     db,
		logger: logger,
	}
}

func upsertSnapshot(ctx context.Context, ex execer, deviceID, column, value string, at time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO device_snapshot (device_id, attribute, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, attribute)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		deviceID, column, value, at,
	)
	return err
}

// GetValue returns the current value. ok is false when the attribute was never reported.
func (r *SnapshotRepository) GetValue(ctx context.Context, deviceID, column string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM device_snapshot WHERE device_id = $1 AND attribute = $2`,
		deviceID, column,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query snapshot value: %w", err)
	}
	return value, true, nil
}

// SetValue overwrites the current value.
func (r *SnapshotRepository) SetValue(ctx context.Context, deviceID, column, value string, at time.Time) error {
	if err := upsertSnapshot(ctx, r.db, deviceID, column, value, at); err != nil {
		return fmt.Errorf("failed to upsert snapshot value: %w", err)
	}
	return nil
}

// GetValues returns the current values of several attributes. Missing attributes are absent
// from the map.
func (r *SnapshotRepository) GetValues(ctx context.Context, deviceID string, columns []string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT attribute, value FROM device_snapshot WHERE device_id = $1 AND attribute = ANY($2)`,
		deviceID, pq.Array(columns),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot values: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(columns))
	for rows.Next() {
		var attr, value string
		if err := rows.Scan(&attr, &value); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot value: %w", err)
		}
		out[attr] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot values: %w", err)
	}
	return out, nil
}
