package lattice

import (
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockMessage is a result published through MockClient
type MockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MockClient is an in-memory mqtt.Client. It stands in for the broker in
// publisher and service tests: publishes are recorded, peak topics are
// subscribed, and SimulateMessage feeds a payload to a subscription.
type MockClient struct {
	mu           sync.RWMutex
	connected    bool
	connects     int
	connectErr   error
	publishErr   error
	subscribeErr error
	onConnect    mqtt.OnConnectHandler
	routes       map[string]mqtt.MessageHandler
	published    []MockMessage
}

// NewMockClient creates a disconnected mock client
func NewMockClient() *MockClient {
	return &MockClient{routes: make(map[string]mqtt.MessageHandler)}
}

// NewMockMQTTClient wires an MQTTClient to mc. Connecting mc subscribes the
// sample topics as a broker connection would.
func NewMockMQTTClient(mc *MockClient, config *Config, handler PeakHandler) *MQTTClient {
	client := newMQTTClientWithMock(mc, config, handler)
	mc.SetOnConnect(client.onConnect)
	return client
}

func (c *MockClient) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

// SetConnectError makes every Connect fail with err
func (c *MockClient) SetConnectError(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *MockClient) SetPublishError(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

func (c *MockClient) SetSubscribeError(err error) {
	c.mu.Lock()
	c.subscribeErr = err
	c.mu.Unlock()
}

// SetOnConnect registers a handler run synchronously after a successful Connect
func (c *MockClient) SetOnConnect(h mqtt.OnConnectHandler) {
	c.mu.Lock()
	c.onConnect = h
	c.mu.Unlock()
}

// ConnectAttempts returns how many times Connect was called
func (c *MockClient) ConnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connects
}

// GetPublishedMessages returns a copy of the published results
func (c *MockClient) GetPublishedMessages() []MockMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MockMessage(nil), c.published...)
}

// Subscriptions returns the subscribed topics in sorted order
func (c *MockClient) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.routes))
	for t := range c.routes {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// SimulateMessage delivers a peak payload to the handler subscribed to
// topic. Unsubscribed topics are dropped.
func (c *MockClient) SimulateMessage(topic string, payload []byte) {
	c.mu.RLock()
	handler := c.routes[topic]
	c.mu.RUnlock()
	if handler != nil {
		handler(c, peakMessage{topic: topic, payload: payload})
	}
}

func (c *MockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *MockClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connects++
	err := c.connectErr
	c.connected = err == nil
	onConnect := c.onConnect
	c.mu.Unlock()

	if err == nil && onConnect != nil {
		onConnect(c)
	}
	return doneToken{err}
}

func (c *MockClient) Disconnect(uint) { c.SetConnected(false) }

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.connected:
		return doneToken{mqtt.ErrNotConnected}
	case c.publishErr != nil:
		return doneToken{c.publishErr}
	}

	msg := MockMessage{Topic: topic, QoS: qos, Retain: retained}
	switch v := payload.(type) {
	case []byte:
		msg.Payload = v
	case string:
		msg.Payload = []byte(v)
	}
	c.published = append(c.published, msg)
	return doneToken{}
}

func (c *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, callback)
}

func (c *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.connected:
		return doneToken{mqtt.ErrNotConnected}
	case c.subscribeErr != nil:
		return doneToken{c.subscribeErr}
	}
	for topic := range filters {
		c.routes[topic] = callback
	}
	return doneToken{}
}

func (c *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.routes, topic)
	}
	return doneToken{}
}

func (c *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	c.routes[topic] = callback
	c.mu.Unlock()
}

func (c *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// doneToken is an mqtt.Token that has already completed with err.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// peakMessage is a QoS 0 mqtt.Message carrying a peak payload.
type peakMessage struct {
	topic   string
	payload []byte
}

func (m peakMessage) Duplicate() bool   { return false }
func (m peakMessage) Qos() byte         { return 0 }
func (m peakMessage) Retained() bool    { return false }
func (m peakMessage) Topic() string     { return m.topic }
func (m peakMessage) MessageID() uint16 { return 0 }
func (m peakMessage) Payload() []byte   { return m.payload }
func (m peakMessage) Ack()              {}
