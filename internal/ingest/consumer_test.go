package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	mqttcommon "pumpbridge/common/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	filters      map[string]byte
	handler      mqttcommon.MessageHandler
	unsubscribed []string
}

func (s *fakeSubscriber) SubscribeMultiple(filters map[string]byte, handler mqttcommon.MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = filters
	s.handler = handler
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = append(s.unsubscribed, topics...)
	return nil
}

type orderRecorder struct {
	mu       sync.Mutex
	byTopic  map[string][]string
	deadline bool
}

func (r *orderRecorder) OnMessage(ctx context.Context, topic string, payload []byte) error {
	_, hasDeadline := ctx.Deadline()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadline = hasDeadline
	r.byTopic[topic] = append(r.byTopic[topic], string(payload))
	return nil
}

func TestTopics(t *testing.T) {
	filters := Topics()
	assert.Contains(t, filters, "FlowRate/+")
	assert.Contains(t, filters, "AlarmStatus/+")
	assert.Contains(t, filters, "AinFlowRateHigh/+")
	assert.Contains(t, filters, "DebugEvent/+")
	for _, qos := range filters {
		assert.Equal(t, byte(1), qos)
	}
}

func TestConsumer_PerDeviceOrder(t *testing.T) {
	sub := &fakeSubscriber{}
	rec := &orderRecorder{byTopic: map[string][]string{}}
	c := NewConsumer(sub, rec, ConsumerOptions{Workers: 4, QueueSize: 8, MessageTimeout: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	require.NotNil(t, sub.handler)
	assert.Equal(t, Topics(), sub.filters)

	devices := []string{"AAAA0001", "BBBB0002", "CCCC0003"}
	var wg sync.WaitGroup
	for _, id := range devices {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, sub.handler("FlowRate/"+id, []byte{byte('0' + i%10)}))
			}
		}(id)
	}
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, c.Stop(stopCtx))

	for _, id := range devices {
		got := rec.byTopic["FlowRate/"+id]
		require.Len(t, got, 50)
		for i, v := range got {
			assert.Equal(t, string([]byte{byte('0' + i%10)}), v)
		}
	}
	assert.True(t, rec.deadline, "each message runs under a timeout")
	assert.Len(t, sub.unsubscribed, len(Topics()))
}

func TestConsumer_EnqueueAfterStop(t *testing.T) {
	sub := &fakeSubscriber{}
	rec := &orderRecorder{byTopic: map[string][]string{}}
	c := NewConsumer(sub, rec, ConsumerOptions{Workers: 1}, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(context.Background()))

	assert.Error(t, sub.handler("FlowRate/AAAA0001", []byte("1")))
}
