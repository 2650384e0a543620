package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pumpbridge/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// HistoryRepository is the append-only telemetry log. Range deletes are the only
// mutation and are reserved for admin copy and phantom cleanup.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append adds one entry.
func (r *HistoryRepository) Append(ctx context.Context, deviceID, column, value string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO history (device_id, timestamp, attribute, value) VALUES ($1, $2, $3, $4)`,
		deviceID, at, column, value,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// LatestAtOrBefore returns the newest entry with timestamp <= at, or nil.
func (r *HistoryRepository) LatestAtOrBefore(ctx context.Context, deviceID, column string, at time.Time) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	err := r.db.QueryRowContext(ctx, `
		SELECT id, device_id, timestamp, attribute, value
		FROM history
		WHERE device_id = $1 AND attribute = $2 AND timestamp <= $3
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`,
		deviceID, column, at,
	).Scan(&e.ID, &e.DeviceID, &e.Timestamp, &e.Attribute, &e.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest history: %w", err)
	}
	return &e, nil
}

// ListRange returns entries with from < timestamp <= to in time order.
func (r *HistoryRepository) ListRange(ctx context.Context, deviceID, column string, from, to time.Time) ([]models.HistoryEntry, error) {
	return r.list(ctx, `
		SELECT id, device_id, timestamp, attribute, value
		FROM history
		WHERE device_id = $1 AND attribute = $2 AND timestamp > $3 AND timestamp <= $4
		ORDER BY timestamp, id`,
		deviceID, column, from, to,
	)
}

// ListSince returns entries with timestamp >= since in time order.
func (r *HistoryRepository) ListSince(ctx context.Context, deviceID, column string, since time.Time) ([]models.HistoryEntry, error) {
	return r.list(ctx, `
		SELECT id, device_id, timestamp, attribute, value
		FROM history
		WHERE device_id = $1 AND attribute = $2 AND timestamp >= $3
		ORDER BY timestamp, id`,
		deviceID, column, since,
	)
}

func (r *HistoryRepository) list(ctx context.Context, query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Timestamp, &e.Attribute, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return out, nil
}

func rangeWhere(rg models.HistoryRange, args *[]any) string {
	*args = append(*args, rg.DeviceID)
	where := []string{"device_id = $1"}
	if len(rg.Attributes) > 0 {
		*args = append(*args, pq.Array(rg.Attributes))
		where = append(where, fmt.Sprintf("attribute = ANY($%d)", len(*args)))
	}
	if !rg.From.IsZero() {
		*args = append(*args, rg.From)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(*args)))
	}
	if !rg.To.IsZero() {
		*args = append(*args, rg.To)
		where = append(where, fmt.Sprintf("timestamp <= $%d", len(*args)))
	}
	return strings.Join(where, " AND ")
}

// DeleteRange removes entries matching the range and returns the count.
func (r *HistoryRepository) DeleteRange(ctx context.Context, rg models.HistoryRange) (int64, error) {
	var args []any
	query := `DELETE FROM history WHERE ` + rangeWhere(rg, &args)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CopyRequest copies one device's history onto another.
type CopyRequest struct {
	Source models.HistoryRange
	DestID string
	// Offset is added to every value; values must then be integers.
	Offset *int64
	// ReplaceDest deletes the destination's entries in the same range first. It requires a
	// bounded range and is skipped when the source range is empty.
	ReplaceDest bool
}

// CopyResult reports what CopyRange did.
type CopyResult struct {
	Deleted int64
	Copied  int64
}

// CopyRange copies entries from the source range to the destination device in one transaction.
func (r *HistoryRepository) CopyRange(ctx context.Context, req CopyRequest) (*CopyResult, error) {
	if req.DestID == "" || req.Source.DeviceID == "" {
		return nil, fmt.Errorf("source and destination device ids are required")
	}
	if req.ReplaceDest && !req.Source.Bounded() {
		return nil, fmt.Errorf("replacing destination history requires a bounded time range")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var srcArgs []any
	srcWhere := rangeWhere(req.Source, &srcArgs)

	var srcCount int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE `+srcWhere, srcArgs...).Scan(&srcCount); err != nil {
		return nil, fmt.Errorf("failed to count source history: %w", err)
	}

	result := &CopyResult{}
	if srcCount == 0 {
		r.logger.Info("No source history to copy", zap.String("device_id", req.Source.DeviceID))
		return result, nil
	}

	if req.ReplaceDest {
		dest := req.Source
		dest.DeviceID = req.DestID
		var destArgs []any
		res, err := tx.ExecContext(ctx, `DELETE FROM history WHERE `+rangeWhere(dest, &destArgs), destArgs...)
		if err != nil {
			return nil, fmt.Errorf("failed to delete destination history: %w", err)
		}
		result.Deleted, _ = res.RowsAffected()
	}

	valueExpr := "value"
	args := append([]any{}, srcArgs...)
	if req.Offset != nil {
		args = append(args, *req.Offset)
		valueExpr = fmt.Sprintf("(CAST(value AS BIGINT) + $%d)::TEXT", len(args))
	}
	args = append(args, req.DestID)
	destPos := len(args)

	insert := fmt.Sprintf(`
		INSERT INTO history (device_id, timestamp, attribute, value)
		SELECT $%d, timestamp, attribute, %s
		FROM history
		WHERE %s`, destPos, valueExpr, srcWhere)

	res, err := tx.ExecContext(ctx, insert, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to copy history: %w", err)
	}
	result.Copied, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit history copy: %w", err)
	}

	r.logger.Info("History copied",
		zap.String("source_device_id", req.Source.DeviceID),
		zap.String("dest_device_id", req.DestID),
		zap.Int64("deleted", result.Deleted),
		zap.Int64("copied", result.Copied),
	)
	return result, nil
}

// DeletePhantom removes entries recorded at or after the last_seen of a device that is
// currently disconnected. Such entries come from retained messages replayed after the
// device went away.
func (r *HistoryRepository) DeletePhantom(ctx context.Context, deviceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM history h
		USING devices d
		WHERE d.device_id = $1
		  AND h.device_id = d.device_id
		  AND d.connection = FALSE
		  AND d.last_seen IS NOT NULL
		  AND h.timestamp >= d.last_seen`,
		deviceID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete phantom history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
