package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

var (
	logIdentifierClean = regexp.MustCompile(`[^a-zA-Z_0-9\.]`)
	logPayloadClean    = regexp.MustCompile(`[^-a-zA-Z_0-9\.#,? :\s=]`)
)

const logFieldMax = 100

// EventLogRepository writes the operational audit log.
type EventLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewEventLogRepository(db *sql.DB, logger *zap.Logger) *EventLogRepository {
	return &EventLogRepository{
		db:     db,
		logger: logger,
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Write stores one entry. Identifiers and free text are scrubbed before storage.
func (r *EventLogRepository) Write(ctx context.Context, e models.EventLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	targetID := logIdentifierClean.ReplaceAllString(e.TargetID, "")
	if targetID != "" && e.TargetType == models.TargetUnknown {
		e.TargetType = models.TargetPump
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_log (
			timestamp, origin_type, origin_id, event_type, message,
			target_type, target_id, attribute, old_value, new_value, success
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.Timestamp,
		int(e.OriginType),
		truncate(logIdentifierClean.ReplaceAllString(e.OriginID, ""), logFieldMax),
		int(e.EventType),
		logPayloadClean.ReplaceAllString(e.Message, ""),
		int(e.TargetType),
		truncate(targetID, logFieldMax),
		truncate(logIdentifierClean.ReplaceAllString(e.Attribute, ""), logFieldMax),
		truncate(logPayloadClean.ReplaceAllString(e.OldValue, ""), logFieldMax),
		truncate(logPayloadClean.ReplaceAllString(e.NewValue, ""), logFieldMax),
		int(e.Success),
	)
	if err != nil {
		return fmt.Errorf("failed to write event log: %w", err)
	}
	return nil
}
