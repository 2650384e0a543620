package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pumpbridge/internal/events"
	"pumpbridge/internal/models"
	"pumpbridge/internal/repository"

	"go.uber.org/zap"
)

// DeviceStore is the device-row part of the state store the bridge needs.
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	SaveLifecycle(ctx context.Context, d *models.Device, tr models.Transition) error
	MarkConnection(ctx context.Context, deviceID string, u repository.ConnectionUpdate) error
}

type SnapshotStore interface {
	GetValue(ctx context.Context, deviceID, column string) (string, bool, error)
	SetValue(ctx context.Context, deviceID, column, value string, at time.Time) error
}

type HistoryAppender interface {
	Append(ctx context.Context, deviceID, column, value string, at time.Time) error
}

type EventLogWriter interface {
	Write(ctx context.Context, e models.EventLogEntry) error
}

type AlarmDetector interface {
	Detect(ctx context.Context, deviceID string, previous, current uint32, at time.Time) ([]int, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// SnapshotCache is refreshed after each accepted snapshot write.
type SnapshotCache interface {
	Put(ctx context.Context, deviceID, column, value string) error
}

// Bridge routes sanitized telemetry into the state store and raises derived state:
// alarm work on rising bits, connection bookkeeping, reanimation and power cycles.
//
// Messages for one device are processed one at a time. The snapshot always holds the
// value of the most recently processed message, so out-of-order delivery resolves in
// processing order.
type Bridge struct {
	devices   DeviceStore
	snapshots SnapshotStore
	history   HistoryAppender
	eventLog  EventLogWriter
	detector  AlarmDetector
	publisher EventPublisher
	cache     SnapshotCache
	locks     *deviceLocks
	logger    *zap.Logger

	now func() time.Time
}

// NewBridge wires the bridge. publisher and cache may be nil.
func NewBridge(
	devices DeviceStore,
	snapshots SnapshotStore,
	history HistoryAppender,
	eventLog EventLogWriter,
	detector AlarmDetector,
	publisher EventPublisher,
	cache SnapshotCache,
	logger *zap.Logger,
) *Bridge {
	return &Bridge{
		devices:   devices,
		snapshots: snapshots,
		history:   history,
		eventLog:  eventLog,
		detector:  detector,
		publisher: publisher,
		cache:     cache,
		locks:     newDeviceLocks(256),
		logger:    logger,
		now:       time.Now,
	}
}

// OnMessage processes one raw publication. Dropped messages return one of
// ErrMalformedInput, ErrUnknownDevice or ErrUnknownAttribute. Side-effect failures are
// logged individually and returned joined; none of them stops the others.
func (b *Bridge) OnMessage(ctx context.Context, topic string, payload []byte) error {
	msg, err := ParseMessage(topic, payload)
	if err != nil {
		b.logger.Warn("Dropping invalid message", zap.String("topic", topic), zap.Error(err))
		b.writeLog(ctx, models.EventLogEntry{
			OriginType: models.OriginMQTT,
			EventType:  models.EventDebug,
			Message:    fmt.Sprintf("Invalid message: %s %s %s", msg.Topic, msg.DeviceID, msg.Value),
			Success:    models.StatusFail,
		})
		return err
	}

	if msg.Topic == models.DebugTopic {
		b.writeLog(ctx, models.EventLogEntry{
			OriginType: models.OriginPump,
			OriginID:   msg.DeviceID,
			EventType:  models.EventDebug,
			TargetID:   msg.DeviceID,
			Message:    msg.Value,
			Success:    models.StatusSuccess,
		})
		return nil
	}

	attr, ok := models.ParseAttribute(msg.Topic)
	if !ok {
		b.logger.Warn("Message for unrecognized topic",
			zap.String("topic", msg.Topic),
			zap.String("device_id", msg.DeviceID),
		)
		b.writeLog(ctx, models.EventLogEntry{
			OriginType: models.OriginMQTT,
			EventType:  models.EventDebug,
			Message:    fmt.Sprintf("Unrecognized message: %s %s %s", msg.Topic, msg.DeviceID, msg.Value),
			Success:    models.StatusFail,
		})
		return fmt.Errorf("%w: %s", ErrUnknownAttribute, msg.Topic)
	}

	unlock := b.locks.lock(msg.DeviceID)
	defer unlock()

	return b.apply(ctx, attr, msg.DeviceID, msg.Value)
}

func (b *Bridge) apply(ctx context.Context, attr models.Attribute, deviceID, value string) error {
	device, err := b.devices.GetDevice(ctx, deviceID)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		b.logger.Warn("Message for unrecognized pump", zap.String("device_id", deviceID))
		b.writeLog(ctx, models.EventLogEntry{
			OriginType: models.OriginMQTT,
			EventType:  models.EventDebug,
			Message:    "Unrecognized pump: " + deviceID,
			Success:    models.StatusFail,
		})
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if err != nil {
		return fmt.Errorf("failed to load device %s: %w", deviceID, err)
	}

	now := b.now()
	column := attr.Column()
	log := b.logger.With(zap.String("device_id", deviceID), zap.String("attribute", column))

	var errs []error

	old, hadOld, readErr := b.snapshots.GetValue(ctx, deviceID, column)
	if readErr != nil {
		log.Error("Failed to read previous value", zap.Error(readErr))
		errs = append(errs, readErr)
	}

	if err := b.snapshots.SetValue(ctx, deviceID, column, value, now); err != nil {
		log.Error("Failed to update snapshot", zap.Error(err))
		errs = append(errs, err)
	} else if b.cache != nil {
		if err := b.cache.Put(ctx, deviceID, column, value); err != nil {
			log.Warn("Failed to refresh snapshot cache", zap.Error(err))
		}
	}

	if err := b.history.Append(ctx, deviceID, column, value, now); err != nil {
		log.Error("Failed to append history", zap.Error(err))
		errs = append(errs, err)
	}

	// derived state needs the previous value
	if readErr == nil {
		var prev *string
		if hadOld {
			prev = &old
		}
		if err := b.derive(ctx, device, attr, prev, value, now); err != nil {
			log.Error("Failed to apply derived state", zap.Error(err))
			errs = append(errs, err)
		}
	}

	log.Debug("Message applied", zap.String("value", value))
	return errors.Join(errs...)
}

func (b *Bridge) derive(ctx context.Context, device *models.Device, attr models.Attribute, prev *string, value string, now time.Time) error {
	switch attr {
	case models.AttrAlarmStatus:
		return b.alarmEdges(ctx, device.DeviceID, prev, value, now)
	case models.AttrActiveClients:
		return b.connection(ctx, device, prev, value, now)
	case models.AttrSoftwareVersion:
		b.writeLog(ctx, models.EventLogEntry{
			OriginType: models.OriginMQTT,
			EventType:  models.EventDebug,
			TargetID:   device.DeviceID,
			Message:    "Power Cycle",
			NewValue:   value,
			Success:    models.StatusSuccess,
		})
		b.publish(ctx, events.Event{Type: events.PowerCycle, DeviceID: device.DeviceID, Attribute: attr.Column(), Value: value, At: now})
	}
	return nil
}

func (b *Bridge) alarmEdges(ctx context.Context, deviceID string, prev *string, value string, now time.Time) error {
	current, err := models.ParseBitfield(value)
	if err != nil {
		return fmt.Errorf("%w: alarm bitfield %q", ErrMalformedInput, value)
	}
	var previous uint32
	if prev != nil {
		if p, err := models.ParseBitfield(*prev); err == nil {
			previous = p
		}
	}

	created, err := b.detector.Detect(ctx, deviceID, previous, current, now)
	for _, id := range created {
		alarmID := id
		b.publish(ctx, events.Event{
			Type:      events.AlarmRaised,
			DeviceID:  deviceID,
			Attribute: models.AttrAlarmStatus.Column(),
			Value:     value,
			AlarmID:   &alarmID,
			At:        now,
		})
	}
	return err
}

func (b *Bridge) connection(ctx context.Context, device *models.Device, prev *string, value string, now time.Time) error {
	n, err := models.ParseInt(value)
	if err != nil {
		return fmt.Errorf("%w: connection value %q", ErrMalformedInput, value)
	}
	connected := n > 0

	var (
		previous    bool
		hasPrevious bool
	)
	if prev != nil {
		if p, err := models.ParseInt(*prev); err == nil {
			previous, hasPrevious = p > 0, true
		}
	}

	msg := "Pump is disconnected"
	if connected {
		msg = "Pump is connected"
	}
	b.writeLog(ctx, models.EventLogEntry{
		OriginType: models.OriginMQTT,
		EventType:  models.EventDebug,
		TargetID:   device.DeviceID,
		Message:    msg,
		Success:    models.StatusSuccess,
	})

	var errs []error

	changed := !hasPrevious || previous != connected
	update := repository.ConnectionUpdate{
		Connected: connected,
		// re-arm the long-term disconnection sweep on every fresh disconnect
		ClearNoticed: hasPrevious && previous && !connected,
	}
	if changed {
		update.SeenAt = &now
	}
	if err := b.devices.MarkConnection(ctx, device.DeviceID, update); err != nil {
		errs = append(errs, err)
	}

	if connected {
		if err := b.reanimate(ctx, device, now); err != nil {
			errs = append(errs, err)
		}
	}

	if changed {
		b.publish(ctx, events.Event{
			Type:      events.ConnectionChanged,
			DeviceID:  device.DeviceID,
			Attribute: models.AttrActiveClients.Column(),
			Value:     value,
			At:        now,
		})
	}
	return errors.Join(errs...)
}

// reanimate moves a deactivated device that reconnected back to active.
func (b *Bridge) reanimate(ctx context.Context, device *models.Device, now time.Time) error {
	tr, ok := device.Transition(models.LifecycleActive)
	if !ok {
		return nil
	}
	if err := b.devices.SaveLifecycle(ctx, device, tr); err != nil {
		return fmt.Errorf("failed to reactivate device: %w", err)
	}
	if tr.ResetAlarmBaseline && b.cache != nil {
		if err := b.cache.Put(ctx, device.DeviceID, models.AttrAlarmStatus.Column(), "0"); err != nil {
			b.logger.Warn("Failed to refresh alarm baseline in cache", zap.String("device_id", device.DeviceID), zap.Error(err))
		}
	}

	b.logger.Info("Device reactivated", zap.String("device_id", device.DeviceID))
	b.writeLog(ctx, models.EventLogEntry{
		OriginType: models.OriginMQTT,
		EventType:  models.EventStatus,
		TargetID:   device.DeviceID,
		Message:    "Pump reactivated",
		Success:    models.StatusSuccess,
	})
	b.publish(ctx, events.Event{Type: events.DeviceReanimated, DeviceID: device.DeviceID, At: now})
	return nil
}

func (b *Bridge) writeLog(ctx context.Context, e models.EventLogEntry) {
	if err := b.eventLog.Write(ctx, e); err != nil {
		b.logger.Error("Failed to write event log",
			zap.String("message", e.Message),
			zap.Error(err),
		)
	}
}

func (b *Bridge) publish(ctx context.Context, e events.Event) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, e); err != nil {
		b.logger.Error("Failed to publish event",
			zap.String("type", string(e.Type)),
			zap.String("device_id", e.DeviceID),
			zap.Error(err),
		)
	}
}
