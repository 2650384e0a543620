package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqttcommon "pumpbridge/common/mqtt"
	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

// Subscriber is the broker side of the consumer.
type Subscriber interface {
	SubscribeMultiple(filters map[string]byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MessageProcessor handles one raw publication.
type MessageProcessor interface {
	OnMessage(ctx context.Context, topic string, payload []byte) error
}

var errConsumerStopped = errors.New("consumer stopped")

type inbound struct {
	topic   string
	payload []byte
}

// ConsumerOptions sizes the worker group.
type ConsumerOptions struct {
	Workers        int
	QueueSize      int
	MessageTimeout time.Duration
}

// Consumer subscribes to every telemetry topic and fans messages out to a fixed set of
// workers keyed by device, so one device's messages are handled in arrival order while
// different devices proceed in parallel.
type Consumer struct {
	sub       Subscriber
	processor MessageProcessor
	opts      ConsumerOptions
	logger    *zap.Logger

	shards   []chan inbound
	stopped  chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

func NewConsumer(sub Subscriber, processor MessageProcessor, opts ConsumerOptions, logger *zap.Logger) *Consumer {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 10 * time.Second
	}
	return &Consumer{
		sub:       sub,
		processor: processor,
		opts:      opts,
		logger:    logger.Named("ingest"),
		stopped:   make(chan struct{}),
	}
}

// Topics returns the subscription filters: "<Attr>/+" for every attribute and the debug topic.
func Topics() map[string]byte {
	filters := make(map[string]byte, len(models.AllAttributes())+1)
	for _, a := range models.AllAttributes() {
		filters[a.Topic()+"/+"] = 1
	}
	filters[models.DebugTopic+"/+"] = 1
	return filters
}

// Start launches the workers and subscribes. It returns once subscribed; workers run
// until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	c.ctx = ctx
	c.shards = make([]chan inbound, c.opts.Workers)
	for i := range c.shards {
		c.shards[i] = make(chan inbound, c.opts.QueueSize)
		c.wg.Add(1)
		go c.worker(ctx, c.shards[i])
	}

	filters := Topics()
	if err := c.sub.SubscribeMultiple(filters, c.enqueue); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topics: %w", err)
	}

	c.logger.Info("Ingestion consumer started",
		zap.Int("topics", len(filters)),
		zap.Int("workers", c.opts.Workers),
	)
	return nil
}

// Stop unsubscribes, drains the queues and waits for the workers.
func (c *Consumer) Stop(ctx context.Context) error {
	topics := make([]string, 0, len(Topics()))
	for t := range Topics() {
		topics = append(topics, t)
	}
	if err := c.sub.Unsubscribe(topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.stopOnce.Do(func() { close(c.stopped) })

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		for _, ch := range c.shards {
			close(ch)
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Info("Ingestion consumer stopped")
	return nil
}

// enqueue runs on the broker's callback goroutine. It blocks when the device's shard is
// full, which applies back-pressure to the broker connection.
func (c *Consumer) enqueue(topic string, payload []byte) error {
	_, deviceID, err := ParseTopic(topic)
	if err != nil {
		// still routed so the drop is logged by the processor
		deviceID = topic
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || len(c.shards) == 0 {
		return errConsumerStopped
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case c.shards[shardFor(deviceID, len(c.shards))] <- inbound{topic: topic, payload: buf}:
		return nil
	case <-c.stopped:
		return errConsumerStopped
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Consumer) worker(ctx context.Context, ch <-chan inbound) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg inbound) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.MessageTimeout)
	defer cancel()

	err := c.processor.OnMessage(ctx, msg.topic, msg.payload)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedInput), errors.Is(err, ErrUnknownDevice), errors.Is(err, ErrUnknownAttribute):
		c.logger.Debug("Message dropped", zap.String("topic", msg.topic), zap.Error(err))
	default:
		c.logger.Error("Failed to process message", zap.String("topic", msg.topic), zap.Error(err))
	}
}
