// Package hardware abstracts the physical I/O of a unit: actuator outputs,
// discrete feedback inputs and analog sensor inputs, looked up by name on a
// Board. Two boards exist: a Linux board (GPIO character device, sysfs PWM,
// IIO ADC) and a simulated board for bench runs and tests.
package hardware

import "errors"

// MaxDuty is the full-scale output level (8-bit PWM resolution).
const MaxDuty = 255

// ErrUnknownPin is returned when a board has no pin with the requested name.
var ErrUnknownPin = errors.New("unknown pin")

// Output drives one actuator. Level 0 de-energizes it; digital outputs treat
// any positive level as on.
type Output interface {
	Set(level int) error
	Level() int
}

// DigitalInput is a discrete feedback signal.
type DigitalInput interface {
	Asserted() (bool, error)
}

// AnalogInput is a raw sensor reading in ADC counts.
type AnalogInput interface {
	Read() (float64, error)
}

// Board resolves named pins.
type Board interface {
	Output(name string) (Output, error)
	DigitalInput(name string) (DigitalInput, error)
	AnalogInput(name string) (AnalogInput, error)
	Close() error
}

// ClampDuty limits level to [0, MaxDuty].
func ClampDuty(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxDuty {
		return MaxDuty
	}
	return level
}
