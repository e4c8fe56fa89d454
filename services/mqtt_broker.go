package services

import (
	"context"
	"fmt"
	"time"

	"exoskeleton/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTBroker is a Broker over MQTT 3.1.1. Reconnection is left to the
// ConnectivityManager, so paho's own auto-reconnect is off.
type MQTTBroker struct {
	client  mqtt.Client
	broker  string
	timeout time.Duration
	logger  *zap.Logger
}

// ClientID returns the configured client id or <unit>-<uuid>.
func ClientID(cfg *config.Config) string {
	if cfg.MQTTClientID != "" {
		return cfg.MQTTClientID
	}
	return fmt.Sprintf("%s-%s", cfg.UnitType, uuid.NewString())
}

func newMQTTOptions(cfg *config.Config, clientID string, logger *zap.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(clientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(15 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(cfg.BrokerTimeout)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}
	return opts
}

// NewMQTTBroker creates an unconnected MQTT session.
func NewMQTTBroker(cfg *config.Config, clientID string, logger *zap.Logger) *MQTTBroker {
	return &MQTTBroker{
		client:  mqtt.NewClient(newMQTTOptions(cfg, clientID, logger)),
		broker:  cfg.MQTTBroker,
		timeout: cfg.BrokerTimeout,
		logger:  logger,
	}
}

func (m *MQTTBroker) wait(ctx context.Context, token mqtt.Token, what string) error {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: timed out after %s", what, m.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
}

// Connect makes one connection attempt bounded by the broker timeout.
func (m *MQTTBroker) Connect(ctx context.Context) error {
	m.logger.Info("Connecting to MQTT broker", zap.String("broker", m.broker))
	return m.wait(ctx, m.client.Connect(), "connect to "+m.broker)
}

// IsConnected reports whether the session is open, not merely reconnecting.
func (m *MQTTBroker) IsConnected() bool {
	return m.client.IsConnectionOpen()
}

// Publish sends at QoS 0, not retained.
func (m *MQTTBroker) Publish(topic string, payload []byte) error {
	return m.wait(context.Background(), m.client.Publish(topic, 0, false, payload), "publish "+topic)
}

// Subscribe registers handler for topic at QoS 0.
func (m *MQTTBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	token := m.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if err := m.wait(context.Background(), token, "subscribe "+topic); err != nil {
		return err
	}

	m.logger.Info("Subscribed to topic", zap.String("topic", topic))
	return nil
}

// Disconnect closes the session, waiting up to 250ms for in-flight work.
func (m *MQTTBroker) Disconnect() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
