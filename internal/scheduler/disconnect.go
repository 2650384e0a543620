package scheduler

import (
	"context"
	"time"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

type DisconnectStore interface {
	ListDisconnected(ctx context.Context, now time.Time, minAge, maxAge time.Duration) ([]*models.Device, error)
	MarkDisconnectionNoticed(ctx context.Context, deviceID string) error
}

type AlarmWorkCreator interface {
	CreateIfNotPending(ctx context.Context, deviceID string, alarmID int, at time.Time) (bool, error)
}

// DisconnectSweep raises the disconnection pseudo-alarm for devices that have been
// offline between MinAge and MaxAge. Each outage is reported once; reconnecting re-arms it.
type DisconnectSweep struct {
	devices  DisconnectStore
	work     AlarmWorkCreator
	eventLog EventLogWriter
	minAge   time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

func NewDisconnectSweep(devices DisconnectStore, work AlarmWorkCreator, eventLog EventLogWriter, minAge, maxAge time.Duration, logger *zap.Logger) *DisconnectSweep {
	return &DisconnectSweep{
		devices:  devices,
		work:     work,
		eventLog: eventLog,
		minAge:   minAge,
		maxAge:   maxAge,
		logger:   logger,
	}
}

func (s *DisconnectSweep) Name() string { return "disconnect_sweep" }

func (s *DisconnectSweep) Run(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary
	devices, err := s.devices.ListDisconnected(ctx, now, s.minAge, s.maxAge)
	if err != nil {
		return sum, err
	}

	for _, d := range devices {
		sum.Processed++
		created, err := s.work.CreateIfNotPending(ctx, d.DeviceID, models.AlarmDisconnection, now)
		if err != nil {
			sum.Failed++
			s.logger.Error("Failed to queue disconnection alarm", zap.String("device_id", d.DeviceID), zap.Error(err))
			s.record(ctx, d.DeviceID, "Error processing disconnect notifications: "+err.Error(), models.StatusFail)
			continue
		}
		if created {
			sum.Sent++
		} else {
			sum.Skipped++
		}

		if err := s.devices.MarkDisconnectionNoticed(ctx, d.DeviceID); err != nil {
			sum.Failed++
			s.logger.Error("Failed to mark disconnection noticed", zap.String("device_id", d.DeviceID), zap.Error(err))
			continue
		}
		s.logger.Info("Noticed long-term disconnection",
			zap.String("device_id", d.DeviceID),
			zap.Timep("last_seen", d.LastSeen),
		)
		s.record(ctx, d.DeviceID, "Noticed long-term disconnection", models.StatusSuccess)
	}
	return sum, nil
}

func (s *DisconnectSweep) record(ctx context.Context, deviceID, message string, status models.LogStatus) {
	err := s.eventLog.Write(ctx, models.EventLogEntry{
		OriginType: models.OriginServer,
		OriginID:   originID,
		EventType:  models.EventDebug,
		Message:    message,
		TargetType: models.TargetPump,
		TargetID:   deviceID,
		Success:    status,
	})
	if err != nil {
		s.logger.Error("Failed to write disconnect log", zap.String("device_id", deviceID), zap.Error(err))
	}
}
