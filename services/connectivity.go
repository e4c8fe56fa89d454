package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"exoskeleton/clock"
	"exoskeleton/config"
	"exoskeleton/hardware"
	"exoskeleton/models"

	"go.uber.org/zap"
)

var (
	ErrNetworkTimeout = errors.New("network connection timed out")
	ErrBrokerTimeout  = errors.New("broker connection failed")
	ErrNotReady       = errors.New("connection not ready")
)

// InboundCapacity bounds the inbound message queue.
const InboundCapacity = 32

// Network is the link layer under the broker session.
type Network interface {
	Connect(ctx context.Context) error
	Connected() bool
}

// Broker is one pub/sub session. Handlers may be called from transport
// goroutines.
type Broker interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Disconnect()
}

// RetryBudget bounds one leg of the connection lifecycle.
type RetryBudget struct {
	MaxAttempts int
	Delay       time.Duration
}

// ConnectivityConfig holds the retry budgets of both connection legs.
type ConnectivityConfig struct {
	Network RetryBudget
	Broker  RetryBudget
}

// DefaultConnectivityConfig returns the budgets the units ship with.
func DefaultConnectivityConfig() ConnectivityConfig {
	return ConnectivityConfig{
		Network: RetryBudget{MaxAttempts: 20, Delay: 500 * time.Millisecond},
		Broker:  RetryBudget{MaxAttempts: 5, Delay: 5 * time.Second},
	}
}

// ConnectivityConfigFrom reads the budgets from cfg.
func ConnectivityConfigFrom(cfg *config.Config) ConnectivityConfig {
	return ConnectivityConfig{
		Network: RetryBudget{MaxAttempts: cfg.NetworkMaxAttempts, Delay: cfg.NetworkRetryDelay},
		Broker:  RetryBudget{MaxAttempts: cfg.BrokerMaxFailures, Delay: cfg.BrokerRetryDelay},
	}
}

// ConnectionSnapshot is a read-only view for diagnostics.
type ConnectionSnapshot struct {
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Escalated bool   `json:"escalated"`
	Dropped   int    `json:"dropped"`
}

// ConnectivityManager owns the network and broker session of one unit.
// Inbound messages are queued by transport callbacks and delivered by Poll
// on the control loop.
type ConnectivityManager struct {
	cfg       ConnectivityConfig
	network   Network
	broker    Broker
	restarter hardware.Restarter
	clock     clock.Clock
	logger    *zap.Logger

	commandTopic string
	inbound      chan models.Message
	handler      func(models.Message)
	reporter     StatusSink
	hold         func() bool
	holding      bool

	mu          sync.Mutex
	state       models.ConnectionState
	failures    int
	nextAttempt time.Time
	escalated   bool
	dropped     int
}

// NewConnectivityManager creates a manager subscribed to commandTopic once
// Ready.
func NewConnectivityManager(cfg ConnectivityConfig, network Network, broker Broker, restarter hardware.Restarter, commandTopic string, clk clock.Clock, logger *zap.Logger) *ConnectivityManager {
	return &ConnectivityManager{
		cfg:          cfg,
		network:      network,
		broker:       broker,
		restarter:    restarter,
		clock:        clk,
		logger:       logger,
		commandTopic: commandTopic,
		inbound:      make(chan models.Message, InboundCapacity),
		handler:      func(models.Message) {},
		hold:         func() bool { return false },
		state:        models.Disconnected,
	}
}

// SetHandler sets the receiver of inbound messages.
func (c *ConnectivityManager) SetHandler(fn func(models.Message)) {
	c.handler = fn
}

// SetReporter sets where connectivity milestones are reported.
func (c *ConnectivityManager) SetReporter(r StatusSink) {
	c.reporter = r
}

// SetRecoveryHold makes Poll defer reconnection attempts while hold returns
// true. Lost sessions are still detected and publishes still fail fast.
func (c *ConnectivityManager) SetRecoveryHold(hold func() bool) {
	c.hold = hold
}

// State returns the current connection state.
func (c *ConnectivityManager) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the connection counters for diagnostics.
func (c *ConnectivityManager) Snapshot() ConnectionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionSnapshot{
		State:     c.state.String(),
		Failures:  c.failures,
		Escalated: c.escalated,
		Dropped:   c.dropped,
	}
}

func (c *ConnectivityManager) setState(s models.ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.logger.Debug("Connection state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s))
	}
}

// Connect brings the unit from Disconnected to Ready. A network failure is
// returned as ErrNetworkTimeout, a broker failure as ErrBrokerTimeout.
func (c *ConnectivityManager) Connect(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	c.logger.Info("Connected to broker", zap.String("command_topic", c.commandTopic))
	c.milestone("Connected to broker")
	return nil
}

func (c *ConnectivityManager) connect(ctx context.Context) error {
	if err := c.connectNetwork(ctx); err != nil {
		return err
	}
	return c.connectBroker(ctx)
}

func (c *ConnectivityManager) connectNetwork(ctx context.Context) error {
	if c.network.Connected() {
		c.setState(models.NetworkUp)
		return nil
	}

	c.setState(models.NetworkConnecting)
	c.logger.Info("Connecting to network")

	if err := c.network.Connect(ctx); err != nil {
		c.logger.Warn("Network connect request failed", zap.Error(err))
	}

	maxAttempts := c.cfg.Network.MaxAttempts
	for attempt := 0; !c.network.Connected(); attempt++ {
		if attempt >= maxAttempts {
			c.setState(models.Disconnected)
			c.logger.Error("Network connection failed",
				zap.Int("max_attempts", maxAttempts))
			return fmt.Errorf("%w after %d attempts", ErrNetworkTimeout, maxAttempts)
		}
		if err := ctx.Err(); err != nil {
			c.setState(models.Disconnected)
			return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
		}
		c.clock.Sleep(c.cfg.Network.Delay)
	}

	c.setState(models.NetworkUp)
	c.logger.Info("Network connected")
	return nil
}

func (c *ConnectivityManager) connectBroker(ctx context.Context) error {
	c.setState(models.BrokerConnecting)

	if err := c.broker.Connect(ctx); err != nil {
		c.setState(models.NetworkUp)
		return fmt.Errorf("%w: %w", ErrBrokerTimeout, err)
	}

	if err := c.broker.Subscribe(c.commandTopic, c.enqueue); err != nil {
		c.broker.Disconnect()
		c.setState(models.NetworkUp)
		return fmt.Errorf("%w: subscribe %s: %w", ErrBrokerTimeout, c.commandTopic, err)
	}

	c.setState(models.Ready)
	return nil
}

// Publish sends payload if Ready. It never queues.
func (c *ConnectivityManager) Publish(topic string, payload []byte) bool {
	if c.State() != models.Ready || !c.broker.IsConnected() {
		return false
	}

	if err := c.broker.Publish(topic, payload); err != nil {
		c.logger.Warn("Failed to publish",
			zap.String("topic", topic),
			zap.Error(err))
		return false
	}
	return true
}

// Subscribe adds a subscription delivered through the inbound queue.
func (c *ConnectivityManager) Subscribe(topic string) bool {
	if c.State() != models.Ready {
		return false
	}

	if err := c.broker.Subscribe(topic, c.enqueue); err != nil {
		c.logger.Warn("Failed to subscribe",
			zap.String("topic", topic),
			zap.Error(err))
		return false
	}
	return true
}

// enqueue is the transport callback. It never blocks.
func (c *ConnectivityManager) enqueue(topic string, payload []byte) {
	msg := models.Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	select {
	case c.inbound <- msg:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Warn("Inbound queue full, message dropped", zap.String("topic", topic))
	}
}

// Poll runs once per control-loop tick: detects a lost session, runs
// recovery when not Ready and delivers queued inbound messages. Recovery
// blocks for up to the network and broker budgets, so it is deferred while
// the recovery hold is set.
func (c *ConnectivityManager) Poll(ctx context.Context, now time.Time) {
	if c.State() == models.Ready && !c.broker.IsConnected() {
		c.lost(now)
	}

	if c.State() != models.Ready {
		if c.hold() {
			if !c.holding {
				c.holding = true
				c.logger.Info("Reconnection deferred until actuation ends")
			}
			return
		}
		c.holding = false

		if !c.recover(ctx, now) {
			return
		}
	}

	c.drain()
}

func (c *ConnectivityManager) lost(now time.Time) {
	c.logger.Warn("Broker connection lost")

	if c.network.Connected() {
		c.setState(models.NetworkUp)
	} else {
		c.setState(models.Disconnected)
	}

	c.mu.Lock()
	c.nextAttempt = now
	c.mu.Unlock()
}

// recover makes at most one reconnection attempt when one is due. It
// returns true once the session is Ready again.
func (c *ConnectivityManager) recover(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	if c.escalated || now.Before(c.nextAttempt) {
		c.mu.Unlock()
		return false
	}
	attempt := c.failures + 1
	c.mu.Unlock()

	maxFailures := c.cfg.Broker.MaxAttempts
	c.logger.Info("Attempting to reconnect",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", maxFailures))

	err := c.connect(ctx)
	if err == nil {
		c.mu.Lock()
		c.failures = 0
		c.mu.Unlock()

		c.logger.Info("Reconnected to broker", zap.Int("attempt", attempt))
		c.milestone("Reconnected to broker")
		c.handler(models.Message{Topic: models.ResubscribeTopic})
		return true
	}

	c.mu.Lock()
	c.failures = attempt
	c.nextAttempt = now.Add(c.cfg.Broker.Delay)
	exhausted := attempt >= maxFailures
	if exhausted {
		c.escalated = true
	}
	c.mu.Unlock()

	c.logger.Warn("Reconnect failed",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", maxFailures),
		zap.Duration("retry_in", c.cfg.Broker.Delay),
		zap.Error(err))

	if exhausted {
		reason := fmt.Sprintf("broker unreachable after %d attempts", attempt)
		c.logger.Error("Reconnect budget exhausted, restarting", zap.String("reason", reason))
		c.restarter.Restart(reason)
	}
	return false
}

func (c *ConnectivityManager) drain() {
	for {
		select {
		case msg := <-c.inbound:
			c.handler(msg)
		default:
			return
		}
	}
}

func (c *ConnectivityManager) milestone(message string) {
	if c.reporter != nil {
		c.reporter.Report(models.StatusOnline, message)
	}
}

// Close ends the broker session.
func (c *ConnectivityManager) Close() {
	c.broker.Disconnect()
	c.setState(models.Disconnected)
}
