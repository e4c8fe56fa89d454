package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"exoskeleton/hardware"
	"exoskeleton/models"
	"exoskeleton/sensor"

	"go.uber.org/zap"
)

// AnalogChannel is one filtered, calibrated telemetry field. With
// FromDigital the raw sample is the 0/1 level of a digital input.
type AnalogChannel struct {
	Field       string
	Input       string
	Curve       sensor.Curve
	FromDigital bool
}

// BinaryChannel is one feedback state reported as-is.
type BinaryChannel struct {
	Field string
	Input string
}

// TelemetrySchema is the fixed telemetry layout of a unit type.
type TelemetrySchema struct {
	Period time.Duration
	Analog []AnalogChannel
	Binary []BinaryChannel
}

type analogSource struct {
	AnalogChannel
	read   func() (float64, error)
	filter *sensor.Filter
}

type binarySource struct {
	BinaryChannel
	input hardware.DigitalInput
}

// TelemetryPublisher samples the unit's sensors on a fixed period and
// publishes one flat message per sample. It owns one filter per analog
// channel.
type TelemetryPublisher struct {
	topic      string
	period     time.Duration
	bus        Publisher
	calibrator *sensor.Calibrator
	logger     *zap.Logger

	analog []*analogSource
	binary []*binarySource
	next   time.Time

	mu        sync.Mutex
	last      models.TelemetryMessage
	published int
	skipped   int
}

// NewTelemetryPublisher resolves the schema's inputs on board.
func NewTelemetryPublisher(topic string, schema TelemetrySchema, board hardware.Board, bus Publisher, calibrator *sensor.Calibrator, logger *zap.Logger) (*TelemetryPublisher, error) {
	if schema.Period <= 0 {
		return nil, fmt.Errorf("telemetry period must be positive, got %s", schema.Period)
	}

	t := &TelemetryPublisher{
		topic:      topic,
		period:     schema.Period,
		bus:        bus,
		calibrator: calibrator,
		logger:     logger,
	}

	for _, ch := range schema.Analog {
		src := &analogSource{AnalogChannel: ch, filter: sensor.NewFilter(sensor.DefaultWindow)}
		if ch.FromDigital {
			in, err := board.DigitalInput(ch.Input)
			if err != nil {
				return nil, fmt.Errorf("telemetry %s: %w", ch.Field, err)
			}
			src.read = digitalLevel(in)
		} else {
			in, err := board.AnalogInput(ch.Input)
			if err != nil {
				return nil, fmt.Errorf("telemetry %s: %w", ch.Field, err)
			}
			src.read = in.Read
		}
		t.analog = append(t.analog, src)
	}

	for _, ch := range schema.Binary {
		in, err := board.DigitalInput(ch.Input)
		if err != nil {
			return nil, fmt.Errorf("telemetry %s: %w", ch.Field, err)
		}
		t.binary = append(t.binary, &binarySource{BinaryChannel: ch, input: in})
	}

	return t, nil
}

func digitalLevel(in hardware.DigitalInput) func() (float64, error) {
	return func() (float64, error) {
		v, err := in.Asserted()
		if err != nil {
			return 0, err
		}
		if v {
			return 1, nil
		}
		return 0, nil
	}
}

// Period returns the sampling period.
func (t *TelemetryPublisher) Period() time.Duration {
	return t.period
}

// Due reports whether a sample is due at now.
func (t *TelemetryPublisher) Due(now time.Time) bool {
	return !now.Before(t.next)
}

// Skip drops the sample due at now. Skipped samples are not made up later.
func (t *TelemetryPublisher) Skip(now time.Time) {
	t.next = now.Add(t.period)

	t.mu.Lock()
	t.skipped++
	t.mu.Unlock()
}

// Republish makes the next tick sample immediately.
func (t *TelemetryPublisher) Republish() {
	t.next = time.Time{}
}

// Reset clears every filter.
func (t *TelemetryPublisher) Reset() {
	for _, src := range t.analog {
		src.filter.Reset()
	}
}

// SampleAndPublish reads every channel, updates the filters and publishes
// the calibrated readings. It returns the message and whether it reached the
// bus.
func (t *TelemetryPublisher) SampleAndPublish(now time.Time) (models.TelemetryMessage, bool) {
	t.next = now.Add(t.period)

	msg := make(models.TelemetryMessage, len(t.analog)+len(t.binary))

	for _, src := range t.analog {
		raw, err := src.read()
		if err != nil {
			t.logger.Warn("Sensor read failed",
				zap.String("sensor", src.Field),
				zap.Error(err))
		} else {
			src.filter.Add(raw)
		}
		msg[src.Field] = t.calibrator.Calibrate(src.Field, src.Curve, src.filter.Value())
	}

	for _, src := range t.binary {
		v, err := src.input.Asserted()
		if err != nil {
			t.logger.Warn("Feedback read failed",
				zap.String("sensor", src.Field),
				zap.Error(err))
			continue
		}
		msg[src.Field] = v
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("Failed to marshal telemetry", zap.Error(err))
		return msg, false
	}

	published := t.bus.Publish(t.topic, payload)

	t.mu.Lock()
	t.last = msg
	if published {
		t.published++
	}
	t.mu.Unlock()

	t.logger.Debug("Telemetry sampled",
		zap.String("topic", t.topic),
		zap.Bool("published", published))

	return msg, published
}

// TelemetrySnapshot is a read-only view for diagnostics.
type TelemetrySnapshot struct {
	Last      models.TelemetryMessage `json:"last"`
	Published int                     `json:"published"`
	Skipped   int                     `json:"skipped"`
}

// Snapshot returns the last sample and counters.
func (t *TelemetryPublisher) Snapshot() TelemetrySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	last := make(models.TelemetryMessage, len(t.last))
	for k, v := range t.last {
		last[k] = v
	}
	return TelemetrySnapshot{Last: last, Published: t.published, Skipped: t.skipped}
}
