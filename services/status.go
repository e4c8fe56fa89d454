package services

import (
	"encoding/json"
	"sync"
	"time"

	"exoskeleton/clock"
	"exoskeleton/models"

	"go.uber.org/zap"
)

// Publisher is the outbound half of the bus as seen by reporters.
type Publisher interface {
	Publish(topic string, payload []byte) bool
}

// StatusSink receives status transitions.
type StatusSink interface {
	Report(state, message string) models.StatusMessage
}

// StatusReporter turns state transitions into StatusMessages on the status
// topic. Listeners see every message, published or not.
type StatusReporter struct {
	module string
	topic  string
	bus    Publisher
	clock  clock.Clock
	boot   time.Time
	logger *zap.Logger

	mu        sync.Mutex
	listeners []func(models.StatusMessage)
	last      models.StatusMessage
}

// NewStatusReporter creates a reporter for module. Timestamps count
// milliseconds from this call.
func NewStatusReporter(module string, bus Publisher, clk clock.Clock, logger *zap.Logger) *StatusReporter {
	return &StatusReporter{
		module: module,
		topic:  models.Topic(module, models.KindStatus),
		bus:    bus,
		clock:  clk,
		boot:   clk.Now(),
		logger: logger,
	}
}

// OnStatus registers a local listener.
func (s *StatusReporter) OnStatus(fn func(models.StatusMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Report emits one status message. Publishing is best effort.
func (s *StatusReporter) Report(state, message string) models.StatusMessage {
	msg := models.StatusMessage{
		Module:    s.module,
		State:     state,
		Message:   message,
		Timestamp: s.clock.Now().Sub(s.boot).Milliseconds(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal status", zap.Error(err))
		return msg
	}

	published := s.bus.Publish(s.topic, payload)

	s.logger.Info("Status report",
		zap.String("state", state),
		zap.String("message", message),
		zap.Int64("timestamp", msg.Timestamp),
		zap.Bool("published", published))

	s.mu.Lock()
	s.last = msg
	listeners := make([]func(models.StatusMessage), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}

	return msg
}

// Last returns the most recent status message.
func (s *StatusReporter) Last() models.StatusMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
