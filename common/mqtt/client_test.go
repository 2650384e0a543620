package mqtt

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"pumpbridge/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeBroker records what the wrapper asks of paho.
type fakeBroker struct {
	mqtt.Client

	mu           sync.Mutex
	open         bool
	subscribed   map[string]byte
	callbacks    map[string]mqtt.MessageHandler
	unsubscribed []string
	subErr       error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subscribed: map[string]byte{},
		callbacks:  map[string]mqtt.MessageHandler{},
	}
}

func (b *fakeBroker) IsConnectionOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *fakeBroker) IsConnected() bool { return b.IsConnectionOpen() }

func (b *fakeBroker) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed[topic] = qos
	b.callbacks[topic] = cb
	return doneToken{err: b.subErr}
}

func (b *fakeBroker) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, qos := range filters {
		b.subscribed[topic] = qos
		b.callbacks[topic] = cb
	}
	return doneToken{err: b.subErr}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topics...)
	return doneToken{}
}

func (b *fakeBroker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = map[string]byte{}
	b.callbacks = map[string]mqtt.MessageHandler{}
}

func (b *fakeBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subscribed))
	for t := range b.subscribed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func setupClient() (*fakeBroker, *Client) {
	broker := newFakeBroker()
	return broker, &Client{
		client:        broker,
		config:        &config.MQTTConfig{Broker: "tcp://broker:1883", ClientID: "test"},
		logger:        zap.NewNop(),
		subscriptions: make(map[string]subscription),
	}
}

func TestClient_SubscribeWhileDisconnectedIsDeferred(t *testing.T) {
	broker, c := setupClient()

	require.NoError(t, c.SubscribeMultiple(map[string]byte{"Pressure/+": 1, "Status/+": 1}, func(string, []byte) error { return nil }))
	assert.Empty(t, broker.topics())

	c.onConnect(broker)
	assert.Equal(t, []string{"Pressure/+", "Status/+"}, broker.topics())
}

func TestClient_OnConnectReplaysEveryFilter(t *testing.T) {
	broker, c := setupClient()
	broker.open = true

	var mu sync.Mutex
	got := map[string]string{}
	record := func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got[topic] = string(payload)
		return nil
	}
	require.NoError(t, c.SubscribeMultiple(map[string]byte{"Pressure/+": 1, "FlowRate/+": 2}, record))
	require.NoError(t, c.Subscribe("Connection/+", 1, record))
	assert.Len(t, broker.topics(), 3)

	// clean session: the broker forgot everything
	broker.reset()
	c.onConnect(broker)

	assert.Equal(t, []string{"Connection/+", "FlowRate/+", "Pressure/+"}, broker.topics())
	assert.Equal(t, byte(2), broker.subscribed["FlowRate/+"])

	broker.callbacks["Pressure/+"](broker, fakeMessage{topic: "Pressure/ABCD1234", payload: []byte("120")})
	assert.Equal(t, "120", got["Pressure/ABCD1234"])
}

func TestClient_UnsubscribeDropsFromReplay(t *testing.T) {
	broker, c := setupClient()
	broker.open = true

	noop := func(string, []byte) error { return nil }
	require.NoError(t, c.SubscribeMultiple(map[string]byte{"Pressure/+": 1, "Status/+": 1, "Alarm/+": 1}, noop))

	require.NoError(t, c.Unsubscribe("Status/+", "Alarm/+"))
	assert.ElementsMatch(t, []string{"Status/+", "Alarm/+"}, broker.unsubscribed)

	broker.reset()
	c.onConnect(broker)
	assert.Equal(t, []string{"Pressure/+"}, broker.topics())
}

func TestClient_UnsubscribeWhileDisconnectedStillForgets(t *testing.T) {
	broker, c := setupClient()

	require.NoError(t, c.Subscribe("Status/+", 1, func(string, []byte) error { return nil }))
	require.NoError(t, c.Unsubscribe("Status/+"))
	assert.Empty(t, broker.unsubscribed)

	c.onConnect(broker)
	assert.Empty(t, broker.topics())
}

func TestClient_SubscribeErrorKeepsFilterForReplay(t *testing.T) {
	broker, c := setupClient()
	broker.open = true
	broker.subErr = errors.New("not authorized")

	err := c.Subscribe("Status/+", 1, func(string, []byte) error { return nil })
	assert.ErrorContains(t, err, "not authorized")

	broker.subErr = nil
	broker.reset()
	c.onConnect(broker)
	assert.Equal(t, []string{"Status/+"}, broker.topics())
}
