package lattice

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PeakHandler is called when a peak set arrives on a sample topic.
// err is set when the payload could not be parsed.
type PeakHandler func(sampleID string, ps *PeakSet, err error)

// MQTTClient manages the broker connection and the sample subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	peakHandler PeakHandler
	isConnected bool
	mu          sync.RWMutex
}

// ResolveMQTTConfig applies the MQTT_* environment overrides to cfg
func ResolveMQTTConfig(cfg MQTTConfig) MQTTConfig {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ubindex"
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		cfg.PublishPrefix = v
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = "ubindex"
	}
	return cfg
}

const (
	connectTimeout    = 10 * time.Second
	connectRetryDelay = time.Second
	maxConnectDelay   = 60 * time.Second
)

// InitMQTT creates the MQTT client and starts connecting in the background
// until the first connection succeeds or ctx ends. If no broker is
// configured, MQTT is disabled and this returns nil.
func InitMQTT(ctx context.Context, config *Config, handler PeakHandler) (*MQTTClient, error) {
	if config == nil {
		return nil, fmt.Errorf("MQTT: no configuration provided")
	}
	settings := ResolveMQTTConfig(config.MQTT)
	if settings.Broker == "" {
		logger.Info("MQTT disabled: no broker configured")
		return nil, nil
	}

	hasTopic := false
	for _, sc := range config.Samples {
		if sc.Topic != "" {
			hasTopic = true
			break
		}
	}
	if !hasTopic {
		return nil, fmt.Errorf("MQTT enabled but no sample topic configured: %w", ErrInvalidConfiguration)
	}

	client := &MQTTClient{
		config:      config,
		peakHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry(ctx)

	return client, nil
}

// connectWithRetry connects to the broker, doubling the delay between
// failed attempts up to maxConnectDelay. It gives up when ctx ends.
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	delay := connectRetryDelay
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		if ctx.Err() != nil {
			logger.Infow("MQTT connection abandoned", "error", ctx.Err())
			return
		}

		logger.Info("connecting to MQTT broker")
		token := c.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			logger.Warn("MQTT connection timeout")
		} else if err := token.Error(); err != nil {
			logger.Warnw("MQTT connection failed", "error", err)
		} else {
			logger.Info("connected to MQTT broker")
			c.setConnected(true)
			return
		}

		logger.Infow("retrying MQTT connection", "delay", delay)
		timer.Reset(delay)
		delay = min(2*delay, maxConnectDelay)
	}
}

// onConnect subscribes to every sample topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	for _, sample := range c.config.Samples {
		if sample.Topic == "" {
			continue
		}

		token := client.Subscribe(sample.Topic, 0, c.createMessageHandler(sample.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			logger.Errorw("subscribe failed", "topic", sample.Topic, "sample", sample.ID, "error", token.Error())
			continue
		}
		logger.Infow("subscribed", "topic", sample.Topic, "sample", sample.ID)
	}
}

// onConnectionLost marks the client disconnected; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	logger.Warnw("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	logger.Info("MQTT reconnecting")
}

// createMessageHandler parses peak sets arriving for one sample. Payloads
// without their own sample ID take the configured one.
func (c *MQTTClient) createMessageHandler(sampleID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		logger.Debugw("received peak set", "sample", sampleID, "topic", msg.Topic(), "bytes", len(payload))

		ps, err := ParsePeaks(payload)
		if err != nil {
			logger.Warnw("could not parse peak set", "sample", sampleID, "error", err)
			if c.peakHandler != nil {
				c.peakHandler(sampleID, nil, err)
			}
			return
		}
		if ps.SampleID == "" {
			ps.SampleID = sampleID
		}

		if c.peakHandler != nil {
			c.peakHandler(sampleID, ps, nil)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps a provided mqtt.Client, for tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler PeakHandler) *MQTTClient {
	return &MQTTClient{
		client:      client,
		config:      config,
		peakHandler: handler,
	}
}
