package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/config"
	"github.com/ponytojas/go-iot-dashboard/internal/metrics"
	"github.com/ponytojas/go-iot-dashboard/internal/models"
)

// ErrNotConnected is returned when publishing while the broker is unreachable
var ErrNotConnected = errors.New("mqtt client not connected")

// SampleWriter stores decoded telemetry
type SampleWriter interface {
	InsertSamples(ctx context.Context, samples []models.Sample) error
}

// Client handles MQTT connection and message processing
type Client struct {
	client  mqtt.Client
	store   SampleWriter
	config  *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a new MQTT client. store may be nil for a client
// that only publishes commands.
func NewClient(cfg *config.Config, store SampleWriter, m *metrics.Metrics, logger *zap.Logger) *Client {
	opts := mqtt.NewClientOptions()
	brokerURL := cfg.GetMQTTBrokerURL()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.MQTT.ClientID)

	// Configure TLS if using SSL or WSS
	if strings.HasPrefix(brokerURL, "ssl://") || strings.HasPrefix(brokerURL, "wss://") {
		logger.Info("configuring TLS for secure connection", zap.String("broker", brokerURL))
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("attempting to reconnect to MQTT broker")
	})

	return &Client{
		client:  mqtt.NewClient(opts),
		store:   store,
		config:  cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Connect connects to the MQTT broker
func (c *Client) Connect(ctx context.Context) error {
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	c.logger.Info("connected to MQTT broker", zap.String("broker", c.config.GetMQTTBrokerURL()))
	return nil
}

// Subscribe subscribes to the configured telemetry topic
func (c *Client) Subscribe(ctx context.Context) error {
	if c.store == nil {
		return errors.New("subscribe requires a sample store")
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug("received message", zap.String("topic", msg.Topic()), zap.ByteString("payload", msg.Payload()))
		c.processMessage(context.Background(), msg.Payload())
	}

	topic := c.config.MQTT.Topic
	if err := c.wait(ctx, c.client.Subscribe(topic, 1, handler)); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	c.logger.Info("subscribed to topic", zap.String("topic", topic))
	return nil
}

// PublishCommand sends a command payload to a single device at QoS 1
func (c *Client) PublishCommand(ctx context.Context, deviceID string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	topic := c.config.CommandTopic(deviceID)
	if timeout := c.config.MQTT.PublishTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.wait(ctx, c.client.Publish(topic, 1, false, payload)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	c.logger.Info("published command", zap.String("topic", topic), zap.String("device_id", deviceID))
	return nil
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Info("disconnected from MQTT broker")
}

func (c *Client) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processMessage decodes a telemetry message and stores it in the database
func (c *Client) processMessage(ctx context.Context, payload []byte) {
	samples, err := models.ParseTelemetry(payload, c.now())
	if err != nil {
		c.logger.Warn("dropping telemetry message", zap.Error(err))
		c.metrics.ObserveMessage(metrics.ResultInvalid, 0)
		return
	}
	if len(samples) == 0 {
		c.logger.Warn("telemetry message carried no numeric samples")
		c.metrics.ObserveMessage(metrics.ResultInvalid, 0)
		return
	}

	if err := c.store.InsertSamples(ctx, samples); err != nil {
		c.logger.Error("error inserting sensor data", zap.Error(err))
		c.metrics.ObserveMessage(metrics.ResultFailed, 0)
		return
	}

	c.metrics.ObserveMessage(metrics.ResultStored, len(samples))
	c.logger.Info("stored sensor data",
		zap.String("device_id", samples[0].DeviceID),
		zap.Time("time", samples[0].Time),
		zap.Int("samples", len(samples)),
	)
}
