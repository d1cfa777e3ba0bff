// Package mqtt publishes engine events to an MQTT broker
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

// Config holds the broker connection settings
type Config struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
}

// DefaultConfig returns the default publisher configuration, disabled
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "suggestd",
		TopicPrefix: "suggestd",
		QoS:         1,
	}
}

// Client publishes engine events under <prefix>/events/<type>. It satisfies
// the event sink interfaces, so it can be wired straight into the engine
// and the learning service.
type Client struct {
	mu        sync.Mutex
	client    MQTT.Client
	config    *Config
	connected bool
	logger    *logx.Logger
}

func NewClient(config *Config, logger *logx.Logger) *Client {
	return &Client{config: config, logger: logger}
}

// Connect establishes the broker connection. Disabled clients connect to
// nothing and drop all publishes silently.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("mqtt publisher disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.logger.Info("mqtt connected", "broker", c.config.Broker, "port", c.config.Port)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = MQTT.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return nil
}

// Close disconnects from the broker
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// Record publishes one engine event. Failures are logged, never surfaced:
// event publishing must not affect the request path.
func (c *Client) Record(event pkg.Event) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	ready := c.connected && c.client != nil
	c.mu.Unlock()
	if !ready {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Warn("failed to encode event", "type", event.Type, "error", err)
		return
	}

	topic := fmt.Sprintf("%s/events/%s", c.config.TopicPrefix, event.Type)
	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			c.logger.Warn("failed to publish event", "topic", topic, "error", token.Error())
		}
	}()
}
