package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"exoskeleton/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TopicExchange is RabbitMQ's built-in topic exchange, shared with its MQTT
// plugin.
const TopicExchange = "amq.topic"

// RoutingKey maps a bus topic to an AMQP routing key the way RabbitMQ's
// MQTT plugin does, so AMQP and MQTT units see the same traffic.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// TopicFromRoutingKey is the inverse of RoutingKey.
func TopicFromRoutingKey(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

// AMQPBroker is a Broker over AMQP 0-9-1. Each subscription gets an
// exclusive auto-delete queue bound to TopicExchange.
type AMQPBroker struct {
	url         string
	consumerTag string
	timeout     time.Duration
	logger      *zap.Logger

	mu            sync.Mutex
	conn          *amqp.Connection
	channel       *amqp.Channel
	subscriptions int
}

// NewAMQPBroker creates an unconnected AMQP session.
func NewAMQPBroker(cfg *config.Config, consumerTag string, logger *zap.Logger) *AMQPBroker {
	return &AMQPBroker{
		url:         cfg.AMQPURL,
		consumerTag: consumerTag,
		timeout:     cfg.BrokerTimeout,
		logger:      logger,
	}
}

// Connect dials once, releasing any previous session first. Retrying is the
// caller's job.
func (a *AMQPBroker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.Disconnect()

	a.logger.Info("Connecting to RabbitMQ")

	conn, err := amqp.DialConfig(a.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(a.timeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Set QoS (prefetch count)
	if err := channel.Qos(10, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.channel = channel
	a.mu.Unlock()

	go a.watchClose(conn)

	a.logger.Info("Connected to RabbitMQ successfully")
	return nil
}

func (a *AMQPBroker) watchClose(conn *amqp.Connection) {
	closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if ok && closeErr != nil {
		a.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))
	}
}

// IsConnected reports whether both the connection and channel are open.
func (a *AMQPBroker) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil && !a.conn.IsClosed() && a.channel != nil && !a.channel.IsClosed()
}

func (a *AMQPBroker) currentChannel() (*amqp.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel == nil || a.channel.IsClosed() {
		return nil, ErrNotReady
	}
	return a.channel, nil
}

// Publish sends a transient JSON message on TopicExchange.
func (a *AMQPBroker) Publish(topic string, payload []byte) error {
	channel, err := a.currentChannel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err = channel.PublishWithContext(ctx,
		TopicExchange,     // exchange
		RoutingKey(topic), // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// nextConsumerTag returns a tag unique within this broker. The server
// rejects a second consumer with the same tag on one channel.
func (a *AMQPBroker) nextConsumerTag() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriptions++
	return fmt.Sprintf("%s-%d", a.consumerTag, a.subscriptions)
}

// Subscribe binds a fresh queue to topic and delivers each message to
// handler from a consumer goroutine.
func (a *AMQPBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	channel, err := a.currentChannel()
	if err != nil {
		return err
	}

	queue, err := channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	key := RoutingKey(topic)
	if err := channel.QueueBind(queue.Name, key, TopicExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := channel.Consume(
		queue.Name,          // queue
		a.nextConsumerTag(), // consumer tag
		true,                // auto-ack
		true,                // exclusive
		false,               // no-local
		false,               // no-wait
		nil,                 // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			handler(TopicFromRoutingKey(msg.RoutingKey), msg.Body)
		}
	}()

	a.logger.Info("Queue bound to topic exchange",
		zap.String("queue", queue.Name),
		zap.String("exchange", TopicExchange),
		zap.String("routing_key", key))
	return nil
}

// Disconnect closes the channel and connection.
func (a *AMQPBroker) Disconnect() {
	a.mu.Lock()
	channel, conn := a.channel, a.conn
	a.channel, a.conn = nil, nil
	a.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			a.logger.Debug("Error closing channel", zap.Error(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			a.logger.Debug("Error closing connection", zap.Error(err))
		}
	}
}
