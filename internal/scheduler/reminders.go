package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"pumpbridge/internal/models"
	"pumpbridge/internal/notify"

	"go.uber.org/zap"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type ReminderStore interface {
	ListDue(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	Reschedule(ctx context.Context, rm *models.Reminder, nextDue time.Time, sentAt *time.Time) (bool, error)
}

// ReminderWorker sends due maintenance reminders and schedules the next one.
type ReminderWorker struct {
	reminders  ReminderStore
	recipients RecipientStore
	devices    DeviceReader
	sender     notify.Sender
	eventLog   EventLogWriter
	siteURL    string
	logger     *zap.Logger
}

func NewReminderWorker(reminders ReminderStore, recipients RecipientStore, devices DeviceReader,
	sender notify.Sender, eventLog EventLogWriter, siteURL string, logger *zap.Logger) *ReminderWorker {
	return &ReminderWorker{
		reminders:  reminders,
		recipients: recipients,
		devices:    devices,
		sender:     sender,
		eventLog:   eventLog,
		siteURL:    siteURL,
		logger:     logger,
	}
}

func (w *ReminderWorker) Name() string { return "reminders" }

// Run sends every reminder due before now. A reminder whose owner cannot be reached is
// moved to its next due time without sending. A reminder is claimed by moving its due time
// before the send, so overlapping passes never mail it twice; a send failure puts it back.
func (w *ReminderWorker) Run(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary
	due, err := w.reminders.ListDue(ctx, now)
	if err != nil {
		return sum, err
	}

	for _, rm := range due {
		if ctx.Err() != nil {
			break
		}
		sum.Processed++

		rc, reason, err := w.recipient(ctx, rm)
		if err != nil {
			sum.Failed++
			w.logger.Error("Failed to load reminder recipient", zap.Int64("reminder_id", rm.ID), zap.Error(err))
			w.record(ctx, rm, fmt.Sprintf("Send Exception: %v", err), models.StatusFail)
			continue
		}
		if reason != "" {
			sum.Skipped++
			w.record(ctx, rm, reason, models.StatusFail)
			w.reschedule(ctx, rm, now, nil)
			continue
		}

		claimed, ok, err := w.claim(ctx, rm, now)
		if err != nil {
			sum.Failed++
			w.logger.Error("Failed to claim reminder", zap.Int64("reminder_id", rm.ID), zap.Error(err))
			continue
		}
		if !ok {
			sum.Skipped++
			w.logger.Debug("Reminder claimed by another pass", zap.Int64("reminder_id", rm.ID))
			continue
		}

		name := rm.DeviceID
		if d, err := w.devices.GetDevice(ctx, rm.DeviceID); err == nil && d.Name != "" {
			name = d.Name
		}

		if err := w.sender.Send(ctx, notify.ReminderMessage(rc, rm, name, w.siteURL)); err != nil {
			sum.Failed++
			w.logger.Error("Failed to send reminder",
				zap.Int64("reminder_id", rm.ID),
				zap.String("device_id", rm.DeviceID),
				zap.Error(err),
			)
			w.record(ctx, rm, fmt.Sprintf("Send Exception: %v", err), models.StatusFail)
			w.release(ctx, claimed, rm.NextDue)
			continue
		}

		sum.Sent++
		sentAt := now
		if _, err := w.reminders.Reschedule(ctx, claimed, claimed.NextDue, &sentAt); err != nil {
			w.logger.Error("Failed to stamp reminder send time", zap.Int64("reminder_id", rm.ID), zap.Error(err))
		}
		w.record(ctx, rm, "", models.StatusSuccess)
	}
	return sum, nil
}

// claim moves the reminder to its next due time if it still has the due time it was listed
// with. The returned copy carries the new due time.
func (w *ReminderWorker) claim(ctx context.Context, rm *models.Reminder, now time.Time) (*models.Reminder, bool, error) {
	claimed := *rm
	claimed.NextDue = rm.NextDueAfter(now)
	ok, err := w.reminders.Reschedule(ctx, rm, claimed.NextDue, nil)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &claimed, true, nil
}

func (w *ReminderWorker) release(ctx context.Context, claimed *models.Reminder, due time.Time) {
	if _, err := w.reminders.Reschedule(ctx, claimed, due, nil); err != nil {
		w.logger.Error("Failed to release reminder", zap.Int64("reminder_id", claimed.ID), zap.Error(err))
	}
}

func (w *ReminderWorker) recipient(ctx context.Context, rm *models.Reminder) (*models.Recipient, string, error) {
	rc, err := w.recipients.GetReminderRecipient(ctx, rm.UserID)
	if err != nil {
		return nil, "", err
	}
	switch {
	case rc == nil || !rc.IsActive:
		return nil, fmt.Sprintf("User not found on reminder %d", rm.ID), nil
	case !rc.AlertsEnabled:
		return nil, fmt.Sprintf("User has notifications disabled on reminder %d", rm.ID), nil
	case !emailPattern.MatchString(rc.Email):
		return nil, fmt.Sprintf("Bad email address on reminder %d", rm.ID), nil
	case !rc.EmailConfirmed:
		return nil, fmt.Sprintf("User's email address is unconfirmed on reminder %d", rm.ID), nil
	}
	return rc, "", nil
}

func (w *ReminderWorker) reschedule(ctx context.Context, rm *models.Reminder, basis time.Time, sentAt *time.Time) {
	next := rm.NextDueAfter(basis)
	ok, err := w.reminders.Reschedule(ctx, rm, next, sentAt)
	if err != nil {
		w.logger.Error("Failed to reschedule reminder", zap.Int64("reminder_id", rm.ID), zap.Error(err))
		return
	}
	if !ok {
		w.logger.Warn("Reminder was rescheduled by another pass", zap.Int64("reminder_id", rm.ID))
	}
}

func (w *ReminderWorker) record(ctx context.Context, rm *models.Reminder, message string, status models.LogStatus) {
	err := w.eventLog.Write(ctx, models.EventLogEntry{
		OriginType: models.OriginServer,
		OriginID:   originID,
		EventType:  models.EventEmail,
		Message:    message,
		TargetType: models.TargetNotif,
		TargetID:   strconv.FormatInt(rm.ID, 10),
		Success:    status,
	})
	if err != nil {
		w.logger.Error("Failed to write reminder log", zap.Int64("reminder_id", rm.ID), zap.Error(err))
	}
}
