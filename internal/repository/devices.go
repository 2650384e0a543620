package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository reads and updates device identity and lifecycle rows.
// It never inserts devices: provisioning owns creation.
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

const deviceColumns = `id, device_id, pretty_name, group_id, is_active, suspended, connection,
		last_seen, disconnection_noticed, credentials_ref, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	var (
		d        models.Device
		groupID  sql.NullInt64
		lastSeen sql.NullTime
	)
	if err := row.Scan(
		&d.ID,
		&d.DeviceID,
		&d.Name,
		&groupID,
		&d.IsActive,
		&d.Suspended,
		&d.Connection,
		&lastSeen,
		&d.DisconnectionNoticed,
		&d.CredentialsRef,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.GroupID = int64Ptr(groupID)
	d.LastSeen = timePtr(lastSeen)
	return &d, nil
}

// GetDevice loads a device by its public ID.
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return d, nil
}

// SaveLifecycle persists a lifecycle transition in one transaction: the device row and,
// when requested, the alarm bitfield baseline in the snapshot together with its history row.
func (r *DeviceRepository) SaveLifecycle(ctx context.Context, d *models.Device, tr models.Transition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET is_active = $2, suspended = $3, group_id = $4, credentials_ref = $5, updated_at = NOW()
		WHERE device_id = $1`,
		d.DeviceID, d.IsActive, d.Suspended, nullInt64(d.GroupID), d.CredentialsRef,
	)
	if err != nil {
		return fmt.Errorf("failed to update device lifecycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, d.DeviceID)
	}

	if tr.ResetAlarmBaseline {
		now := time.Now()
		col := models.AttrAlarmStatus.Column()
		if err := upsertSnapshot(ctx, tx, d.DeviceID, col, "0", now); err != nil {
			return fmt.Errorf("failed to reset alarm baseline: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO history (device_id, timestamp, attribute, value) VALUES ($1, $2, $3, $4)`,
			d.DeviceID, now, col, "0",
		)
		if err != nil {
			return fmt.Errorf("failed to record alarm baseline: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lifecycle change: %w", err)
	}

	r.logger.Info("Device lifecycle changed",
		zap.String("device_id", d.DeviceID),
		zap.String("from", tr.From.String()),
		zap.String("to", tr.To.String()),
	)
	return nil
}

// ConnectionUpdate is the device-row side of a connection flag change.
type ConnectionUpdate struct {
	Connected bool
	// SeenAt is written to last_seen when set.
	SeenAt *time.Time
	// ClearNoticed re-arms the long-term disconnection sweep.
	ClearNoticed bool
}

// MarkConnection records a connection flag update on the device row.
func (r *DeviceRepository) MarkConnection(ctx context.Context, deviceID string, u ConnectionUpdate) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET connection = $2,
			last_seen = COALESCE($3, last_seen),
			disconnection_noticed = CASE WHEN $4 THEN FALSE ELSE disconnection_noticed END,
			updated_at = NOW()
		WHERE device_id = $1`,
		deviceID, u.Connected, nullTime(u.SeenAt), u.ClearNoticed,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection state: %w", err)
	}
	return nil
}

// ListDisconnected returns active devices that went dark between maxAge and minAge ago
// and have not been reported yet.
func (r *DeviceRepository) ListDisconnected(ctx context.Context, now time.Time, minAge, maxAge time.Duration) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices
		WHERE connection = FALSE
		  AND is_active = TRUE
		  AND disconnection_noticed = FALSE
		  AND last_seen >= $1
		  AND last_seen <= $2
		ORDER BY last_seen`

	rows, err := r.db.QueryContext(ctx, query, now.Add(-maxAge), now.Add(-minAge))
	if err != nil {
		return nil, fmt.Errorf("failed to query disconnected devices: %w", err)
	}
	defer rows.Close()

	var out []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return out, nil
}

// MarkDisconnectionNoticed flags the device so the sweep reports it once.
func (r *DeviceRepository) MarkDisconnectionNoticed(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET disconnection_noticed = TRUE, updated_at = NOW() WHERE device_id = $1`,
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark disconnection noticed: %w", err)
	}
	return nil
}

// SetName stores the display name locally.
func (r *DeviceRepository) SetName(ctx context.Context, deviceID, name string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET pretty_name = $2, updated_at = NOW() WHERE device_id = $1`,
		deviceID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update device name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return nil
}
