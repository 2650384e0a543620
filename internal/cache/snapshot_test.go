package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLoader struct {
	mu        sync.Mutex
	values    map[string]string
	calls     int
	requested []string
	err       error
}

func (f *fakeLoader) GetValue(_ context.Context, deviceID, column string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.values[deviceID+"/"+column]
	return v, ok, nil
}

func (f *fakeLoader) GetValues(_ context.Context, deviceID string, columns []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requested = append(f.requested, columns...)
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, col := range columns {
		if v, ok := f.values[deviceID+"/"+col]; ok {
			out[col] = v
		}
	}
	return out, nil
}

func setupSnapshotCache(t *testing.T, loader *fakeLoader) (*miniredis.Miniredis, *SnapshotCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewSnapshotCache(NewRedisKVStore(client), loader, "pump:snapshot:", time.Minute, zap.NewNop())
	return mr, c
}

func TestSnapshotCache_ReadThrough(t *testing.T) {
	loader := &fakeLoader{values: map[string]string{"ABCD1234/flow_rate": "1250"}}
	mr, c := setupSnapshotCache(t, loader)
	ctx := context.Background()

	v, ok, err := c.GetValue(ctx, "ABCD1234", "flow_rate")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1250", v)
	assert.Equal(t, 1, loader.calls)

	cached, err := mr.Get("pump:snapshot:ABCD1234:flow_rate")
	require.NoError(t, err)
	assert.Equal(t, "1250", cached)

	_, _, err = c.GetValue(ctx, "ABCD1234", "flow_rate")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls, "second read is served from cache")
}

func TestSnapshotCache_MissingValueNotCached(t *testing.T) {
	loader := &fakeLoader{values: map[string]string{}}
	mr, c := setupSnapshotCache(t, loader)

	_, ok, err := c.GetValue(context.Background(), "ABCD1234", "flow_rate")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("pump:snapshot:ABCD1234:flow_rate"))
}

func TestSnapshotCache_PutOverridesStoreValue(t *testing.T) {
	loader := &fakeLoader{values: map[string]string{"ABCD1234/status": "0"}}
	_, c := setupSnapshotCache(t, loader)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "ABCD1234", "status", "1"))

	v, ok, err := c.GetValue(ctx, "ABCD1234", "status")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, 0, loader.calls)
}

func TestSnapshotCache_GetValuesLoadsOnlyMisses(t *testing.T) {
	loader := &fakeLoader{values: map[string]string{
		"ABCD1234/tank_type":   "0",
		"ABCD1234/sensor_type": "2",
	}}
	mr, c := setupSnapshotCache(t, loader)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "ABCD1234", "tank_type", "3"))

	vals, err := c.GetValues(ctx, "ABCD1234", []string{"tank_type", "sensor_type", "software_version"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tank_type": "3", "sensor_type": "2"}, vals)
	assert.Equal(t, []string{"sensor_type", "software_version"}, loader.requested)
	assert.True(t, mr.Exists("pump:snapshot:ABCD1234:sensor_type"))
	assert.False(t, mr.Exists("pump:snapshot:ABCD1234:software_version"))

	_, err = c.GetValues(ctx, "ABCD1234", []string{"tank_type", "sensor_type"})
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls, "all cached now")
}

func TestSnapshotCache_RedisDownFallsBackToStore(t *testing.T) {
	loader := &fakeLoader{values: map[string]string{"ABCD1234/status": "1"}}
	mr, c := setupSnapshotCache(t, loader)
	mr.Close()

	v, ok, err := c.GetValue(context.Background(), "ABCD1234", "status")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestSnapshotCache_LoaderError(t *testing.T) {
	loader := &fakeLoader{err: errors.New("db down")}
	_, c := setupSnapshotCache(t, loader)

	_, _, err := c.GetValue(context.Background(), "ABCD1234", "status")
	assert.Error(t, err)
}

// gatedLoader blocks inside GetValue until released, returning a value read before the block.
type gatedLoader struct {
	value   string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLoader) GetValue(_ context.Context, _, _ string) (string, bool, error) {
	v := g.value
	close(g.entered)
	<-g.release
	return v, true, nil
}

func (g *gatedLoader) GetValues(context.Context, string, []string) (map[string]string, error) {
	return nil, nil
}

func TestSnapshotCache_FillDoesNotOverwriteConcurrentPut(t *testing.T) {
	loader := &gatedLoader{value: "0", entered: make(chan struct{}), release: make(chan struct{})}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewSnapshotCache(NewRedisKVStore(client), loader, "pump:snapshot:", time.Minute, zap.NewNop())
	ctx := context.Background()

	done := make(chan string)
	go func() {
		v, _, err := c.GetValue(ctx, "ABCD1234", "alarms_status")
		assert.NoError(t, err)
		done <- v
	}()

	<-loader.entered
	require.NoError(t, c.Put(ctx, "ABCD1234", "alarms_status", "4"))
	close(loader.release)
	assert.Equal(t, "0", <-done, "the in-flight read returns what it loaded")

	v, ok, err := c.GetValue(ctx, "ABCD1234", "alarms_status")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestRedisKVStore_SetIfAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	kv := NewRedisKVStore(client)
	ctx := context.Background()

	wrote, err := kv.SetIfAbsent(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = kv.SetIfAbsent(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, wrote)

	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}
