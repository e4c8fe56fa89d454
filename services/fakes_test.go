package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"exoskeleton/clock"
	"exoskeleton/models"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeNetwork struct {
	mu           sync.Mutex
	up           bool
	connectCalls int
}

func (n *fakeNetwork) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connectCalls++
	return nil
}

func (n *fakeNetwork) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.up
}

type fakeBroker struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	subscribeErr error
	connectCalls int
	published    []models.Message
	handlers     map[string]func(string, []byte)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]func(string, []byte))}
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectCalls++
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.New("not connected")
	}
	b.published = append(b.published, models.Message{Topic: topic, Payload: payload})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler func(string, []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

// drop simulates the broker session going away; later connects fail with err.
func (b *fakeBroker) drop(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.connectErr = err
}

func (b *fakeBroker) setConnectErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

func (b *fakeBroker) connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectCalls
}

// deliver plays an inbound message through the registered handler.
func (b *fakeBroker) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	b.mu.Lock()
	handler, ok := b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", topic)
	}
	handler(topic, payload)
}

func (b *fakeBroker) publishedOn(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (b *fakeBroker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

func (b *fakeBroker) statuses(t *testing.T, topic string) []models.StatusMessage {
	t.Helper()
	var out []models.StatusMessage
	for _, payload := range b.publishedOn(topic) {
		var msg models.StatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("bad status payload %s: %v", payload, err)
		}
		out = append(out, msg)
	}
	return out
}

type fakeRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *fakeRestarter) Restart(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *fakeRestarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

// recordingSink is a StatusSink that remembers when each status was reported.
type recordingSink struct {
	clock    clock.Clock
	messages []models.StatusMessage
	times    []time.Time
}

func (s *recordingSink) Report(state, message string) models.StatusMessage {
	msg := models.StatusMessage{State: state, Message: message}
	s.messages = append(s.messages, msg)
	s.times = append(s.times, s.clock.Now())
	return msg
}

func (s *recordingSink) states() []string {
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.State
	}
	return out
}

// recordingBus is a Publisher with a switchable Ready state.
type recordingBus struct {
	ready    bool
	messages []models.Message
}

func (b *recordingBus) Publish(topic string, payload []byte) bool {
	if !b.ready {
		return false
	}
	b.messages = append(b.messages, models.Message{Topic: topic, Payload: payload})
	return true
}

func statesOf(msgs []models.StatusMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.State
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
