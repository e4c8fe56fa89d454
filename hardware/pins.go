package hardware

// PinMap describes how a unit's named pins are wired on a Linux board.
type PinMap struct {
	Outputs map[string]OutputPin  `yaml:"outputs"`
	Digital map[string]DigitalPin `yaml:"digital"`
	Analog  map[string]AnalogPin  `yaml:"analog"`
}

// OutputPin is either a GPIO line ("gpio") or a sysfs PWM channel ("pwm").
type OutputPin struct {
	Kind       string `yaml:"kind"`
	Line       int    `yaml:"line"`
	PWMChip    int    `yaml:"pwm_chip"`
	PWMChannel int    `yaml:"pwm_channel"`
	PeriodNs   int    `yaml:"period_ns"`
}

// DigitalPin is a GPIO input line.
type DigitalPin struct {
	Line      int  `yaml:"line"`
	PullUp    bool `yaml:"pull_up"`
	ActiveLow bool `yaml:"active_low"`
}

// AnalogPin is an IIO ADC channel.
type AnalogPin struct {
	Device  int `yaml:"device"`
	Channel int `yaml:"channel"`
}

// Merge returns m with every entry of override applied on top.
func (m PinMap) Merge(override PinMap) PinMap {
	out := PinMap{
		Outputs: make(map[string]OutputPin, len(m.Outputs)),
		Digital: make(map[string]DigitalPin, len(m.Digital)),
		Analog:  make(map[string]AnalogPin, len(m.Analog)),
	}
	for k, v := range m.Outputs {
		out.Outputs[k] = v
	}
	for k, v := range m.Digital {
		out.Digital[k] = v
	}
	for k, v := range m.Analog {
		out.Analog[k] = v
	}
	for k, v := range override.Outputs {
		out.Outputs[k] = v
	}
	for k, v := range override.Digital {
		out.Digital[k] = v
	}
	for k, v := range override.Analog {
		out.Analog[k] = v
	}
	return out
}
