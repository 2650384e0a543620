package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pumpbridge/internal/models"
	"pumpbridge/internal/notify"

	"go.uber.org/zap"
)

const (
	originID         = "scheduler"
	defaultBatchSize = 500
)

type AlarmWorkStore interface {
	ListPending(ctx context.Context, limit int) ([]*models.AlarmWorkItem, error)
	Claim(ctx context.Context, id int64) (bool, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	SentRecently(ctx context.Context, deviceID string, alarmID int, since time.Time, excludeID int64) (bool, error)
}

type DeviceReader interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

type SnapshotReader interface {
	GetValue(ctx context.Context, deviceID, column string) (string, bool, error)
}

type RecipientStore interface {
	ListAlarmRecipients(ctx context.Context, groupID int64, alarmID int) ([]*models.Recipient, error)
	GetReminderRecipient(ctx context.Context, userID int64) (*models.Recipient, error)
	GroupName(ctx context.Context, groupID int64) (string, error)
}

type EventLogWriter interface {
	Write(ctx context.Context, e models.EventLogEntry) error
}

// Summary counts what one pass did.
type Summary struct {
	Processed int
	Sent      int
	Skipped   int
	Failed    int
}

func (s Summary) fields(job string) []zap.Field {
	return []zap.Field{
		zap.String("job", job),
		zap.Int("processed", s.Processed),
		zap.Int("sent", s.Sent),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
	}
}

// errSkipped carries the reason an item was consumed without sending.
type errSkipped struct{ reason string }

func (e *errSkipped) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return &errSkipped{reason: fmt.Sprintf(format, args...)}
}

type AlarmOptions struct {
	Cooldown  time.Duration
	BatchSize int
	SiteURL   string
}

// AlarmWorker consumes pending alarm work items and notifies group members.
type AlarmWorker struct {
	work       AlarmWorkStore
	devices    DeviceReader
	snapshots  SnapshotReader
	recipients RecipientStore
	sender     notify.Sender
	eventLog   EventLogWriter
	opts       AlarmOptions
	logger     *zap.Logger
}

func NewAlarmWorker(work AlarmWorkStore, devices DeviceReader, snapshots SnapshotReader, recipients RecipientStore,
	sender notify.Sender, eventLog EventLogWriter, opts AlarmOptions, logger *zap.Logger) *AlarmWorker {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &AlarmWorker{
		work:       work,
		devices:    devices,
		snapshots:  snapshots,
		recipients: recipients,
		sender:     sender,
		eventLog:   eventLog,
		opts:       opts,
		logger:     logger,
	}
}

func (w *AlarmWorker) Name() string { return "alarm_work" }

// Run services every pending item once. Each item is claimed before anything else, so
// concurrent passes never handle the same item twice.
func (w *AlarmWorker) Run(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary
	items, err := w.work.ListPending(ctx, w.opts.BatchSize)
	if err != nil {
		return sum, err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		claimed, err := w.work.Claim(ctx, item.ID)
		if err != nil {
			w.logger.Error("Failed to claim alarm work", zap.Int64("work_id", item.ID), zap.Error(err))
			sum.Failed++
			continue
		}
		if !claimed {
			continue
		}
		sum.Processed++

		err = w.service(ctx, item, now)
		var skipped *errSkipped
		switch {
		case err == nil:
			sum.Sent++
			w.record(ctx, item, fmt.Sprintf("Pump %s Alarm %d", item.DeviceID, item.AlarmID), models.StatusSuccess)
		case errors.As(err, &skipped):
			sum.Skipped++
			w.record(ctx, item, skipped.reason, models.StatusFail)
		default:
			sum.Failed++
			w.logger.Error("Failed to service alarm work",
				zap.Int64("work_id", item.ID),
				zap.String("device_id", item.DeviceID),
				zap.Int("alarm_id", item.AlarmID),
				zap.Error(err),
			)
			w.record(ctx, item, fmt.Sprintf("Pump %s Alarm %d Send Exception: %v", item.DeviceID, item.AlarmID, err), models.StatusFail)
		}
	}
	return sum, nil
}

func (w *AlarmWorker) service(ctx context.Context, item *models.AlarmWorkItem, now time.Time) error {
	device, err := w.devices.GetDevice(ctx, item.DeviceID)
	if err != nil {
		return err
	}
	if device.Unassigned() {
		return skip("Pump %s in unassigned group", item.DeviceID)
	}
	if item.AlarmID == models.AlarmIDDefault {
		return skip("Invalid alarm ID")
	}

	if item.AlarmID >= 0 {
		if !models.RequiresManualClear(item.AlarmID) {
			recent, err := w.work.SentRecently(ctx, item.DeviceID, item.AlarmID, now.Add(-w.opts.Cooldown), item.ID)
			if err != nil {
				return err
			}
			if recent {
				return skip("Already sent this alarm recently")
			}
		}

		value, _, err := w.snapshots.GetValue(ctx, item.DeviceID, models.AttrAlarmStatus.Column())
		if err != nil {
			return err
		}
		bits, err := models.ParseBitfield(value)
		if err != nil || bits&(1<<uint(item.AlarmID)) == 0 {
			return skip("Pump %s no longer has alarm active", item.DeviceID)
		}
	}

	groupID := *device.GroupID
	recipients, err := w.recipients.ListAlarmRecipients(ctx, groupID, item.AlarmID)
	if err != nil {
		return err
	}
	groupName, err := w.recipients.GroupName(ctx, groupID)
	if err != nil {
		w.logger.Warn("Failed to load group name", zap.Int64("group_id", groupID), zap.Error(err))
	}

	content := notify.AlarmContent{
		DeviceID:   device.DeviceID,
		DeviceName: device.Name,
		GroupName:  groupName,
		AlarmID:    item.AlarmID,
		SiteURL:    w.opts.SiteURL,
	}
	for _, rc := range recipients {
		if !rc.Reachable() {
			continue
		}
		if err := w.sender.Send(ctx, notify.AlarmMessage(rc, content)); err != nil {
			w.logger.Error("Failed to send alarm alert",
				zap.String("device_id", item.DeviceID),
				zap.Int64("user_id", rc.UserID),
				zap.Error(err),
			)
			w.record(ctx, item, fmt.Sprintf("Error sending alarm alert for pump %s to user %d", item.DeviceID, rc.UserID), models.StatusFail)
		}
	}

	// recorded even after partial failure; the item is consumed either way
	return w.work.MarkSent(ctx, item.ID, now)
}

func (w *AlarmWorker) record(ctx context.Context, item *models.AlarmWorkItem, message string, status models.LogStatus) {
	err := w.eventLog.Write(ctx, models.EventLogEntry{
		OriginType: models.OriginServer,
		OriginID:   originID,
		EventType:  models.EventEmail,
		Message:    message,
		TargetType: models.TargetAlarmAlert,
		TargetID:   strconv.FormatInt(item.ID, 10),
		Success:    status,
	})
	if err != nil {
		w.logger.Error("Failed to write alarm work log", zap.Int64("work_id", item.ID), zap.Error(err))
	}
}
