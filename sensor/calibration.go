package sensor

import (
	"fmt"

	"go.uber.org/zap"
)

// Curve is a pure transfer function from a raw reading to physical units.
type Curve interface {
	Apply(raw float64) float64
}

// Linear computes raw*Slope + Intercept.
type Linear struct {
	Slope     float64
	Intercept float64
}

func (l Linear) Apply(raw float64) float64 {
	return raw*l.Slope + l.Intercept
}

// Quadratic computes A*raw^2 + B*raw.
type Quadratic struct {
	A float64
	B float64
}

func (q Quadratic) Apply(raw float64) float64 {
	return q.A*raw*raw + q.B*raw
}

// Piecewise selects Below for raw < Breakpoint and Above otherwise.
// Continuity at the breakpoint depends on the two segments chosen.
type Piecewise struct {
	Breakpoint float64
	Below      Linear
	Above      Linear
}

func (p Piecewise) Apply(raw float64) float64 {
	if raw < p.Breakpoint {
		return p.Below.Apply(raw)
	}
	return p.Above.Apply(raw)
}

// Calibration tables from the unit firmware.
var (
	TemperatureCurve = Linear{Slope: 0.125, Intercept: -12.5}
	PressureCurve    = Quadratic{A: 0.0015, B: 0.25}
	FlowCurve        = Piecewise{
		Breakpoint: 500,
		Below:      Linear{Slope: 0.1},
		Above:      Linear{Slope: 0.08, Intercept: 10},
	}
	// HumidityCurve maps a 12-bit ADC reading to percent.
	HumidityCurve = Linear{Slope: 100.0 / 4095.0}
	// DepthCurve reports depth in raw sensor counts until a depth table is
	// supplied in the unit file.
	DepthCurve = Linear{Slope: 1}
)

// CurveSpec is the unit-file form of a Curve.
type CurveSpec struct {
	Kind       string     `yaml:"kind"`
	Slope      float64    `yaml:"slope"`
	Intercept  float64    `yaml:"intercept"`
	A          float64    `yaml:"a"`
	B          float64    `yaml:"b"`
	Breakpoint float64    `yaml:"breakpoint"`
	Below      *CurveSpec `yaml:"below"`
	Above      *CurveSpec `yaml:"above"`
}

// Build converts the unit-file entry into a Curve.
func (s CurveSpec) Build() (Curve, error) {
	switch s.Kind {
	case "linear":
		return Linear{Slope: s.Slope, Intercept: s.Intercept}, nil
	case "quadratic":
		return Quadratic{A: s.A, B: s.B}, nil
	case "piecewise":
		if s.Below == nil || s.Above == nil {
			return nil, fmt.Errorf("piecewise curve needs both below and above segments")
		}
		if s.Below.Kind != "linear" || s.Above.Kind != "linear" {
			return nil, fmt.Errorf("piecewise segments must be linear")
		}
		return Piecewise{
			Breakpoint: s.Breakpoint,
			Below:      Linear{Slope: s.Below.Slope, Intercept: s.Below.Intercept},
			Above:      Linear{Slope: s.Above.Slope, Intercept: s.Above.Intercept},
		}, nil
	default:
		return nil, fmt.Errorf("unknown curve kind %q", s.Kind)
	}
}

// Calibrator applies curves and emits one diagnostic event per call.
// The event does not affect the computed value.
type Calibrator struct {
	logger *zap.Logger
}

// NewCalibrator creates a calibrator logging to logger.
func NewCalibrator(logger *zap.Logger) *Calibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calibrator{logger: logger}
}

// Calibrate applies curve to raw for the named sensor.
func (c *Calibrator) Calibrate(name string, curve Curve, raw float64) float64 {
	calibrated := curve.Apply(raw)

	c.logger.Debug("Sensor calibrated",
		zap.String("sensor", name),
		zap.Float64("raw", raw),
		zap.Float64("calibrated", calibrated))

	return calibrated
}
