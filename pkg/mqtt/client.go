// Package mqtt publishes location updates and tracker status to an MQTT broker
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/logx"
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("mqtt client not connected")

// Config holds MQTT configuration
type Config struct {
	Broker         string        `json:"broker" yaml:"broker"`
	Port           int           `json:"port" yaml:"port"`
	ClientID       string        `json:"client_id" yaml:"client_id"`
	Username       string        `json:"username" yaml:"username"`
	Password       string        `json:"password" yaml:"password"`
	TopicPrefix    string        `json:"topic_prefix" yaml:"topic_prefix"`
	QoS            int           `json:"qos" yaml:"qos"`
	Retain         bool          `json:"retain" yaml:"retain"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:         "localhost",
		Port:           1883,
		ClientID:       "geotrackd",
		TopicPrefix:    "geotrack",
		QoS:            1,
		Retain:         false,
		Enabled:        false,
		PublishTimeout: 5 * time.Second,
	}
}

// publisher is the subset of the paho client used here
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Client provides MQTT publishing for geotrack
type Client struct {
	client      publisher
	logger      *logx.Logger
	config      *Config
	connected   atomic.Bool
	lastPublish atomic.Int64
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	return &Client{
		logger: logger,
		config: config,
	}
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
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
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetWill(c.topic("online"), "false", 1, true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	client := MQTT.NewClient(opts)
	c.client = client

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() error {
	if c.client != nil && c.connected.Load() {
		c.publishRaw(c.topic("online"), true, []byte("false"))
		c.client.Disconnect(250)
		c.connected.Store(false)
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")
	c.publishRaw(c.topic("online"), true, []byte("true"))
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected.Store(false)
	c.logger.Error("MQTT connection lost", "error", err)
}

func (c *Client) topic(suffix string) string {
	return fmt.Sprintf("%s/%s", c.config.TopicPrefix, suffix)
}

// Submit publishes a location update and treats the broker acknowledgement
// as acceptance
func (c *Client) Submit(ctx context.Context, update pkg.LocationUpdate) (pkg.ReportAck, error) {
	if !c.IsConnected() {
		return pkg.ReportAck{}, ErrNotConnected
	}

	data, err := json.Marshal(update)
	if err != nil {
		return pkg.ReportAck{}, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	topic := c.topic("location")
	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return pkg.ReportAck{}, fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return pkg.ReportAck{}, fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	c.lastPublish.Store(time.Now().UnixNano())
	return pkg.ReportAck{Accepted: true}, nil
}

// HandleStatus publishes tracker status events, retained so that late
// subscribers see the current state
func (c *Client) HandleStatus(ev pkg.StatusEvent) {
	if !c.IsConnected() {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("failed to marshal status event", "error", err)
		return
	}
	c.publishRaw(c.topic("status"), true, data)
}

// PublishLocation relays a collected update for other consumers
func (c *Client) PublishLocation(update pkg.LocationUpdate) error {
	if !c.IsConnected() {
		return nil
	}
	return c.publishJSON(c.topic("driver/location"), update)
}

// publishRaw publishes without waiting on the caller's goroutine
func (c *Client) publishRaw(topic string, retained bool, data []byte) {
	token := c.client.Publish(topic, byte(c.config.QoS), retained, data)
	go func() {
		if !token.WaitTimeout(c.config.PublishTimeout) {
			c.logger.Warn("MQTT publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
			return
		}
		c.lastPublish.Store(time.Now().UnixNano())
	}()
}

// publishJSON publishes JSON payload to MQTT topic
func (c *Client) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	c.lastPublish.Store(time.Now().UnixNano())
	c.logger.Debug("MQTT message published", "topic", topic, "size", len(data))
	return nil
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// GetLastPublish returns the timestamp of the last publish
func (c *Client) GetLastPublish() time.Time {
	ns := c.lastPublish.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
