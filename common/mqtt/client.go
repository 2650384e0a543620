package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pumpbridge/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrTimeout is returned when the broker does not acknowledge a token in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// MessageHandler processes one inbound message.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client owns the single long-lived broker connection. Every subscription made through
// it is remembered and replayed on each (re)connect, since a clean session drops them.
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger

	mu            sync.RWMutex
	subscriptions map[string]subscription
}

// NewClient builds the client without connecting.
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	c := &Client{
		config:        cfg,
		logger:        logger.Named("mqtt"),
		subscriptions: make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(c.connectTimeout())
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("Broker connection lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.logger.Info("Reconnecting to broker", zap.String("broker", cfg.Broker))
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func (c *Client) connectTimeout() time.Duration {
	if c.config.ConnectTimeout > 0 {
		return c.config.ConnectTimeout
	}
	return 10 * time.Second
}

func (c *Client) opTimeout() time.Duration {
	if c.config.PublishTimeout > 0 {
		return c.config.PublishTimeout
	}
	return 5 * time.Second
}

// Connect retries the initial connection until it succeeds or ctx is done.
// Later drops are handled by paho's auto-reconnect.
func (c *Client) Connect(ctx context.Context) error {
	backoff := time.Second
	for {
		token := c.client.Connect()
		if token.WaitTimeout(c.connectTimeout()) && token.Error() == nil {
			return nil
		}
		err := token.Error()
		if err == nil {
			err = ErrTimeout
		}
		c.logger.Warn("Failed to connect to broker, retrying",
			zap.String("broker", c.config.Broker),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to connect to MQTT broker: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// onConnect replays the full subscription set.
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.RLock()
	filters := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		filters[topic] = sub
	}
	c.mu.RUnlock()

	c.logger.Info("Connected to broker",
		zap.String("broker", c.config.Broker),
		zap.Int("subscriptions", len(filters)),
	)

	for topic, sub := range filters {
		token := client.Subscribe(topic, sub.qos, c.wrap(sub.handler))
		if !token.WaitTimeout(c.opTimeout()) {
			c.logger.Error("Resubscribe timed out", zap.String("topic", topic))
			continue
		}
		if err := token.Error(); err != nil {
			c.logger.Error("Failed to resubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (c *Client) wrap(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Debug("Message handler returned error",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}
}

// Subscribe records the subscription and subscribes immediately when connected.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, handler)
}

// SubscribeMultiple records and subscribes a set of filters sharing one handler.
func (c *Client) SubscribeMultiple(filters map[string]byte, handler MessageHandler) error {
	c.mu.Lock()
	for topic, qos := range filters {
		c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// replayed by onConnect
		return nil
	}

	token := c.client.SubscribeMultiple(filters, c.wrap(handler))
	if !token.WaitTimeout(c.opTimeout()) {
		return fmt.Errorf("failed to subscribe to %d topics: %w", len(filters), ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %d topics: %w", len(filters), err)
	}
	return nil
}

// Publish sends one message and waits for the broker acknowledgement up to the
// configured timeout or ctx, whichever is first.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)

	timeout := c.opTimeout()
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe forgets and unsubscribes the given filters.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subscriptions, t)
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.opTimeout()) {
		return fmt.Errorf("failed to unsubscribe: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
