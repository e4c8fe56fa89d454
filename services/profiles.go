package services

import (
	"fmt"
	"sort"
	"time"

	"exoskeleton/clock"
	"exoskeleton/hardware"
	"exoskeleton/models"
	"exoskeleton/sensor"
)

// Profile is everything that differs between unit types.
type Profile struct {
	Module     string
	Operations []Operation
	Telemetry  TelemetrySchema
	Pins       hardware.PinMap

	// Simulate wires bench physics onto a simulated board.
	Simulate func(board *hardware.SimBoard, clk clock.Clock)
}

type profileBuilder func(curves map[string]sensor.Curve) Profile

var profiles = map[string]profileBuilder{
	"greenhouse": greenhouseProfile,
	"injection":  injectionProfile,
	"bubble":     bubbleProfile,
}

// ProfileNames lists the known unit types.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupProfile returns the named unit profile. curves overrides the default
// calibration per sensor name and may be nil.
func LookupProfile(name string, curves map[string]sensor.Curve) (Profile, error) {
	build, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown unit type %q (known: %v)", name, ProfileNames())
	}
	return build(curves), nil
}

func curveFor(overrides map[string]sensor.Curve, name string, def sensor.Curve) sensor.Curve {
	if c, ok := overrides[name]; ok {
		return c
	}
	return def
}

func fullOn(message string) func(models.Command) (Plan, error) {
	return func(models.Command) (Plan, error) {
		return Plan{Level: hardware.MaxDuty, Message: message}, nil
	}
}

func requireParam(cmd models.Command, key string) (float64, error) {
	v, ok := cmd.Param(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, key)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidParameter, key, v)
	}
	return v, nil
}

func greenhouseProfile(curves map[string]sensor.Curve) Profile {
	const (
		poll    = 100 * time.Millisecond
		timeout = 5 * time.Second
	)

	return Profile{
		Module: "greenhouse",
		Operations: []Operation{
			{
				Action:           "deploy",
				Output:           "deploy",
				PollInterval:     poll,
				Timeout:          timeout,
				Completion:       Completion{Kind: CompleteOnFeedback, Input: "deploy_feedback"},
				CompletedMessage: "Greenhouse deployment complete",
				TimeoutMessage:   "Greenhouse deployment timeout",
				Plan:             fullOn("Deploying greenhouse"),
			},
			{
				Action:           "retract",
				Output:           "retract",
				PollInterval:     poll,
				Timeout:          timeout,
				Completion:       Completion{Kind: CompleteOnFeedback, Input: "retract_feedback"},
				CompletedMessage: "Greenhouse retraction complete",
				TimeoutMessage:   "Greenhouse retraction timeout",
				Plan:             fullOn("Retracting greenhouse"),
			},
		},
		Telemetry: TelemetrySchema{
			Period: time.Second,
			Analog: []AnalogChannel{
				{Field: "temperature", Input: "temperature", Curve: curveFor(curves, "temperature", sensor.TemperatureCurve)},
				{Field: "humidity", Input: "humidity", Curve: curveFor(curves, "humidity", sensor.HumidityCurve)},
			},
			Binary: []BinaryChannel{
				{Field: "deployed", Input: "deploy_feedback"},
				{Field: "retracted", Input: "retract_feedback"},
			},
		},
		Pins: hardware.PinMap{
			Outputs: map[string]hardware.OutputPin{
				"deploy":  {Kind: "gpio", Line: 12},
				"retract": {Kind: "gpio", Line: 13},
			},
			Digital: map[string]hardware.DigitalPin{
				"deploy_feedback":  {Line: 14},
				"retract_feedback": {Line: 15},
			},
			Analog: map[string]hardware.AnalogPin{
				"temperature": {Device: 0, Channel: 0},
				"humidity":    {Device: 0, Channel: 3},
			},
		},
		Simulate: func(b *hardware.SimBoard, clk clock.Clock) {
			b.FollowOutput("deploy", "retract", "deploy_feedback", 2*time.Second, clk)
			b.FollowOutput("retract", "deploy", "retract_feedback", 2*time.Second, clk)
			b.SimAnalog("temperature").Set(300)
			b.SimAnalog("humidity").Set(2500)
		},
	}
}

// injectionLevel maps target pressure (0-300) onto the motor duty, never
// below the motor's stall level.
func injectionLevel(pressure float64) int {
	level := int(pressure) * hardware.MaxDuty / 300
	if level > hardware.MaxDuty {
		level = hardware.MaxDuty
	}
	if level < 150 {
		level = 150
	}
	return level
}

func injectionProfile(curves map[string]sensor.Curve) Profile {
	const poll = 50 * time.Millisecond
	depthCurve := curveFor(curves, "depth", sensor.DepthCurve)

	return Profile{
		Module: "injection",
		Operations: []Operation{
			{
				Action:           "inject",
				Output:           "motor",
				PollInterval:     poll,
				Timeout:          10 * time.Second,
				Completion:       Completion{Kind: CompleteOnThreshold, Input: "depth", Curve: depthCurve},
				CompletedMessage: "Injection completed",
				TimeoutMessage:   "Injection timeout",
				Plan: func(cmd models.Command) (Plan, error) {
					depth, err := requireParam(cmd, "depth")
					if err != nil {
						return Plan{}, err
					}
					pressure, err := requireParam(cmd, "pressure")
					if err != nil {
						return Plan{}, err
					}
					return Plan{
						Level:   injectionLevel(pressure),
						Target:  depth,
						Message: fmt.Sprintf("Injecting to depth %g at pressure %g", depth, pressure),
					}, nil
				},
			},
			{
				Action:           "retract",
				Output:           "motor",
				PollInterval:     poll,
				Timeout:          5 * time.Second,
				Completion:       Completion{Kind: CompleteOnFeedback, Input: "needle_feedback"},
				CompletedMessage: "Needle retracted",
				TimeoutMessage:   "Needle retraction timeout",
				Plan: func(models.Command) (Plan, error) {
					return Plan{Level: 0, Message: "Retracting needle"}, nil
				},
			},
		},
		Telemetry: TelemetrySchema{
			Period: 200 * time.Millisecond,
			Analog: []AnalogChannel{
				{Field: "depth", Input: "depth", Curve: depthCurve},
				{Field: "pressure", Input: "pressure", Curve: curveFor(curves, "pressure", sensor.PressureCurve)},
			},
			Binary: []BinaryChannel{
				{Field: "needle_position", Input: "needle_feedback"},
			},
		},
		Pins: hardware.PinMap{
			Outputs: map[string]hardware.OutputPin{
				"motor": {Kind: "pwm", PWMChip: 0, PWMChannel: 0, PeriodNs: 200000},
			},
			Digital: map[string]hardware.DigitalPin{
				"needle_feedback": {Line: 14},
			},
			Analog: map[string]hardware.AnalogPin{
				"depth":    {Device: 0, Channel: 0},
				"pressure": {Device: 0, Channel: 3},
			},
		},
		Simulate: func(b *hardware.SimBoard, clk clock.Clock) {
			b.RampWhileEnergized("motor", "depth", 100, clk)
			b.SimAnalog("pressure").Set(400)
			b.SimDigital("needle_feedback").Set(true)
		},
	}
}

func bubbleProfile(curves map[string]sensor.Curve) Profile {
	const timeout = 10 * time.Second

	return Profile{
		Module: "bubble",
		Operations: []Operation{
			{
				Action:           "spray",
				Output:           "nozzle",
				PollInterval:     100 * time.Millisecond,
				Timeout:          timeout,
				Completion:       Completion{Kind: CompleteAfterDuration},
				Guard:            "pressure_ok",
				GuardMessage:     "Insufficient system pressure",
				CompletedMessage: "Spraying completed",
				TimeoutMessage:   "Spraying timeout",
				Plan: func(cmd models.Command) (Plan, error) {
					durationMs, err := requireParam(cmd, "duration")
					if err != nil {
						return Plan{}, err
					}
					intensity, err := requireParam(cmd, "intensity")
					if err != nil {
						return Plan{}, err
					}
					duration := time.Duration(durationMs * float64(time.Millisecond))
					if duration <= 0 || duration > timeout {
						return Plan{}, fmt.Errorf("%w: duration must be in (0, %d] ms, got %v",
							ErrInvalidParameter, timeout.Milliseconds(), durationMs)
					}
					if intensity > 100 {
						return Plan{}, fmt.Errorf("%w: intensity must be at most 100, got %v",
							ErrInvalidParameter, intensity)
					}
					return Plan{
						Level:    int(intensity) * hardware.MaxDuty / 100,
						Duration: duration,
						Message:  "Spraying repair solution",
					}, nil
				},
			},
		},
		Telemetry: TelemetrySchema{
			Period: time.Second,
			Analog: []AnalogChannel{
				{Field: "flow_rate", Input: "flow", Curve: curveFor(curves, "flow_rate", sensor.FlowCurve)},
				{Field: "tank_level", Input: "tank_level", Curve: curveFor(curves, "tank_level", sensor.FlowCurve)},
				{Field: "system_pressure", Input: "pressure_ok", Curve: curveFor(curves, "system_pressure", sensor.PressureCurve), FromDigital: true},
			},
		},
		Pins: hardware.PinMap{
			Outputs: map[string]hardware.OutputPin{
				"nozzle": {Kind: "pwm", PWMChip: 0, PWMChannel: 0, PeriodNs: 200000},
			},
			Digital: map[string]hardware.DigitalPin{
				"pressure_ok": {Line: 14},
			},
			Analog: map[string]hardware.AnalogPin{
				"flow":       {Device: 0, Channel: 0},
				"tank_level": {Device: 0, Channel: 3},
			},
		},
		Simulate: func(b *hardware.SimBoard, clk clock.Clock) {
			b.SimDigital("pressure_ok").Set(true)
			b.SimAnalog("flow").Set(600)
			b.SimAnalog("tank_level").Set(3000)
		},
	}
}
