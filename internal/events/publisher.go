package events

import (
	"context"
	"fmt"
	"time"

	commonredis "pumpbridge/common/redis"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names a derived event.
type Type string

const (
	AlarmRaised       Type = "alarm_raised"
	ConnectionChanged Type = "connection_changed"
	PowerCycle        Type = "power_cycle"
	DeviceReanimated  Type = "device_reanimated"
	CommandQueued     Type = "command_queued"
	AlarmNotified     Type = "alarm_notified"
)

// Event is one entry on the derived-event stream.
type Event struct {
	ID        string
	Type      Type
	DeviceID  string
	Attribute string
	Value     string
	AlarmID   *int
	At        time.Time
}

// Publisher appends derived events to a Redis stream for downstream consumers.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish assigns an ID and timestamp if missing and appends the event.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	values := map[string]interface{}{
		"event_id":  e.ID,
		"type":      string(e.Type),
		"device_id": e.DeviceID,
		"timestamp": e.At,
	}
	if e.Attribute != "" {
		values["attribute"] = e.Attribute
	}
	if e.Value != "" {
		values["value"] = e.Value
	}
	if e.AlarmID != nil {
		values["alarm_id"] = *e.AlarmID
	}

	id, err := commonredis.PublishToStream(ctx, p.client, p.stream, p.maxLen, values)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}

	p.logger.Debug("Published event",
		zap.String("stream", p.stream),
		zap.String("stream_id", id),
		zap.String("type", string(e.Type)),
		zap.String("device_id", e.DeviceID),
	)
	return nil
}
