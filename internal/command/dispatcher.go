package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"pumpbridge/internal/events"
	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidValue   = errors.New("invalid command value")
	ErrTransport      = errors.New("transport error")
)

// Outcome is the result of one dispatch attempt.
type Outcome int

const (
	Unchanged Outcome = iota
	Queued
	OutOfRange
	TransportError
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Queued:
		return "queued"
	case OutOfRange:
		return "out_of_range"
	case TransportError:
		return "transport_error"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// commandQoS is exactly-once delivery to the device.
const commandQoS byte = 2

// Command is a set-to-value request for one device.
type Command struct {
	DeviceID string
	Name     string
	// OldValue is the last known value; empty when unknown.
	OldValue string
	NewValue string
	// Bounds is nil for unbounded commands.
	Bounds *models.Bounds
	// Origin identifies who asked, for the audit trail.
	Origin string
}

// Transport publishes to the broker.
type Transport interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

type EventLogWriter interface {
	Write(ctx context.Context, e models.EventLogEntry) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Dispatcher validates commands against the allow-list and bounds, then publishes them to
// "<Command>/<DeviceID>". Calls are independent and safe for concurrent use.
type Dispatcher struct {
	transport Transport
	eventLog  EventLogWriter
	publisher EventPublisher
	logger    *zap.Logger
}

// NewDispatcher builds a dispatcher. publisher may be nil.
func NewDispatcher(transport Transport, eventLog EventLogWriter, publisher EventPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		eventLog:  eventLog,
		publisher: publisher,
		logger:    logger,
	}
}

// Dispatch sends cmd unless it is rejected, unchanged or out of range. Rejected and
// TransportError outcomes come with an error; ErrTransport marks the retryable case.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Outcome, error) {
	spec, ok := models.LookupCommand(cmd.Name)
	if !ok {
		d.logger.Warn("Rejected command outside allow-list",
			zap.String("device_id", cmd.DeviceID),
			zap.String("command", cmd.Name),
		)
		return Rejected, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	if n := len(cmd.DeviceID); n < models.DeviceIDMinLength || n > models.DeviceIDMaxLength {
		return Rejected, fmt.Errorf("%w: device id %q", ErrInvalidValue, cmd.DeviceID)
	}

	if SameValue(cmd.OldValue, cmd.NewValue) {
		return Unchanged, nil
	}

	if cmd.Bounds != nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(cmd.NewValue), 64)
		if err != nil {
			return Rejected, fmt.Errorf("%w: %q for %s", ErrInvalidValue, cmd.NewValue, cmd.Name)
		}
		// devices take integers; the limit applies to the truncated value
		if !cmd.Bounds.Contains(math.Trunc(v)) {
			d.audit(ctx, cmd, "Input out of bounds", models.StatusFail)
			return OutOfRange, nil
		}
	}

	topic := spec.Name + "/" + cmd.DeviceID
	if err := d.transport.Publish(ctx, topic, commandQoS, spec.Retain, []byte(cmd.NewValue)); err != nil {
		d.logger.Error("Failed to publish command",
			zap.String("device_id", cmd.DeviceID),
			zap.String("command", cmd.Name),
			zap.Error(err),
		)
		d.audit(ctx, cmd, fmt.Sprintf("Error setting pump parameter: %v", err), models.StatusFail)
		return TransportError, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	d.logger.Info("Command queued",
		zap.String("device_id", cmd.DeviceID),
		zap.String("command", cmd.Name),
		zap.String("value", cmd.NewValue),
		zap.Bool("retained", spec.Retain),
	)
	d.audit(ctx, cmd, "Command sent", models.StatusSuccess)

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, events.Event{
			Type:      events.CommandQueued,
			DeviceID:  cmd.DeviceID,
			Attribute: cmd.Name,
			Value:     cmd.NewValue,
		}); err != nil {
			d.logger.Error("Failed to publish command event", zap.String("device_id", cmd.DeviceID), zap.Error(err))
		}
	}
	return Queued, nil
}

func (d *Dispatcher) audit(ctx context.Context, cmd Command, message string, status models.LogStatus) {
	err := d.eventLog.Write(ctx, models.EventLogEntry{
		OriginType: models.OriginWeb,
		OriginID:   cmd.Origin,
		EventType:  models.EventCommand,
		Message:    message,
		TargetType: models.TargetPump,
		TargetID:   cmd.DeviceID,
		Attribute:  cmd.Name,
		OldValue:   cmd.OldValue,
		NewValue:   cmd.NewValue,
		Success:    status,
	})
	if err != nil {
		d.logger.Error("Failed to write command audit entry",
			zap.String("device_id", cmd.DeviceID),
			zap.String("command", cmd.Name),
			zap.Error(err),
		)
	}
}

// SameValue compares numerically when both sides are numbers, textually otherwise.
func SameValue(prev, next string) bool {
	prev, next = strings.TrimSpace(prev), strings.TrimSpace(next)
	if prev == "" {
		return false
	}
	a, errA := strconv.ParseFloat(prev, 64)
	b, errB := strconv.ParseFloat(next, 64)
	if errA == nil && errB == nil {
		return a == b
	}
	return prev == next
}
