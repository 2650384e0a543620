package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SnapshotLoader reads the authoritative snapshot value.
type SnapshotLoader interface {
	GetValue(ctx context.Context, deviceID, column string) (string, bool, error)
	GetValues(ctx context.Context, deviceID string, columns []string) (map[string]string, error)
}

// SnapshotCache is a read-through cache of current attribute values. Ingestion writes
// through it after the store write succeeds; the command dispatcher reads from it.
type SnapshotCache struct {
	kv     KVStore
	loader SnapshotLoader
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewSnapshotCache(kv KVStore, loader SnapshotLoader, prefix string, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		kv:     kv,
		loader: loader,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *SnapshotCache) key(deviceID, column string) string {
	return c.prefix + deviceID + ":" + column
}

// GetValue returns the cached value, falling back to the store on a miss or cache error.
// A fill never replaces a key written by Put.
func (c *SnapshotCache) GetValue(ctx context.Context, deviceID, column string) (string, bool, error) {
	key := c.key(deviceID, column)

	val, err := c.kv.Get(ctx, key)
	if err == nil {
		return val, true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("Snapshot cache read failed, using store",
			zap.String("device_id", deviceID),
			zap.String("attribute", column),
			zap.Error(err),
		)
	}

	val, ok, err := c.loader.GetValue(ctx, deviceID, column)
	if err != nil {
		return "", false, fmt.Errorf("failed to load snapshot value: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	// a concurrent Put may have landed while loading; it holds the newer value
	if _, err := c.kv.SetIfAbsent(ctx, key, val, c.ttl); err != nil {
		c.logger.Debug("Failed to populate snapshot cache", zap.String("key", key), zap.Error(err))
	}
	return val, true, nil
}

// Put refreshes the cached value. On failure the key is dropped so the next read goes to
// the store instead of serving a stale value.
func (c *SnapshotCache) Put(ctx context.Context, deviceID, column, value string) error {
	key := c.key(deviceID, column)
	if err := c.kv.Set(ctx, key, value, c.ttl); err != nil {
		_ = c.kv.Delete(ctx, key)
		return fmt.Errorf("failed to update snapshot cache: %w", err)
	}
	return nil
}

// GetValues reads several attributes, loading every cache miss from the store in one query.
// Missing attributes are absent from the map.
func (c *SnapshotCache) GetValues(ctx context.Context, deviceID string, columns []string) (map[string]string, error) {
	out := make(map[string]string, len(columns))
	var misses []string
	for _, col := range columns {
		val, err := c.kv.Get(ctx, c.key(deviceID, col))
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				c.logger.Warn("Snapshot cache read failed, using store",
					zap.String("device_id", deviceID),
					zap.String("attribute", col),
					zap.Error(err),
				)
			}
			misses = append(misses, col)
			continue
		}
		out[col] = val
	}
	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := c.loader.GetValues(ctx, deviceID, misses)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot values: %w", err)
	}
	for col, val := range loaded {
		out[col] = val
		if _, err := c.kv.SetIfAbsent(ctx, c.key(deviceID, col), val, c.ttl); err != nil {
			c.logger.Debug("Failed to populate snapshot cache", zap.String("attribute", col), zap.Error(err))
		}
	}
	return out, nil
}
