package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

// WorkQueue stores alarm work items.
type WorkQueue interface {
	CreateIfNotPending(ctx context.Context, deviceID string, alarmID int, at time.Time) (bool, error)
}

// NewlySet returns the bits that went from 0 to 1.
func NewlySet(previous, current uint32) uint32 {
	return (previous ^ current) & current
}

// Detector turns alarm bitfield updates into work items, one per rising edge.
type Detector struct {
	queue  WorkQueue
	logger *zap.Logger
}

func NewDetector(queue WorkQueue, logger *zap.Logger) *Detector {
	return &Detector{
		queue:  queue,
		logger: logger,
	}
}

// Detect creates work for each newly set bit that has no pending item yet and returns the
// alarm ids it created work for. A failure on one bit does not stop the others.
func (d *Detector) Detect(ctx context.Context, deviceID string, previous, current uint32, at time.Time) ([]int, error) {
	edges := NewlySet(previous, current)
	if edges == 0 {
		return nil, nil
	}

	var (
		created []int
		errs    []error
	)
	for bit := 0; bit < models.AlarmBitWidth; bit++ {
		if edges&(1<<uint(bit)) == 0 {
			continue
		}
		ok, err := d.queue.CreateIfNotPending(ctx, deviceID, bit, at)
		if err != nil {
			d.logger.Error("Failed to create alarm work",
				zap.String("device_id", deviceID),
				zap.Int("alarm_id", bit),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("alarm bit %d: %w", bit, err))
			continue
		}
		if !ok {
			d.logger.Debug("Alarm work already pending",
				zap.String("device_id", deviceID),
				zap.Int("alarm_id", bit),
			)
			continue
		}
		d.logger.Info("Alarm work created",
			zap.String("device_id", deviceID),
			zap.Int("alarm_id", bit),
			zap.String("alarm", models.AlarmName(bit)),
		)
		created = append(created, bit)
	}
	return created, errors.Join(errs...)
}
