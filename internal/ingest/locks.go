package ingest

import (
	"hash/fnv"
	"sync"
)

// deviceLocks serializes work per device with a fixed set of striped mutexes.
// Two devices may share a stripe; that only costs concurrency.
type deviceLocks struct {
	stripes []sync.Mutex
}

func newDeviceLocks(n int) *deviceLocks {
	if n <= 0 {
		n = 64
	}
	return &deviceLocks{stripes: make([]sync.Mutex, n)}
}

func shardFor(deviceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}

func (l *deviceLocks) lock(deviceID string) func() {
	m := &l.stripes[shardFor(deviceID, len(l.stripes))]
	m.Lock()
	return m.Unlock
}
