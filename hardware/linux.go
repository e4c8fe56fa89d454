package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"
)

const (
	defaultPWMRoot  = "/sys/class/pwm"
	defaultIIORoot  = "/sys/bus/iio/devices"
	defaultPeriodNs = 200000 // 5 kHz, the firmware's LEDC frequency
)

// LinuxBoard drives pins through the GPIO character device, sysfs PWM and
// IIO ADC channels.
type LinuxBoard struct {
	chip    *gpiod.Chip
	pins    PinMap
	pwmRoot string
	iioRoot string
	logger  *zap.Logger

	mu      sync.Mutex
	lines   []*gpiod.Line
	outputs map[string]Output
	digital map[string]DigitalInput
	analog  map[string]AnalogInput
}

// OpenLinuxBoard opens chipName (e.g. "gpiochip0") and resolves pins from pins.
func OpenLinuxBoard(chipName string, pins PinMap, logger *zap.Logger) (*LinuxBoard, error) {
	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer("exoskeleton"))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chipName, err)
	}

	logger.Info("GPIO chip opened",
		zap.String("chip", chipName),
		zap.Int("outputs", len(pins.Outputs)),
		zap.Int("digital_inputs", len(pins.Digital)),
		zap.Int("analog_inputs", len(pins.Analog)))

	return &LinuxBoard{
		chip:    chip,
		pins:    pins,
		pwmRoot: defaultPWMRoot,
		iioRoot: defaultIIORoot,
		logger:  logger,
		outputs: make(map[string]Output),
		digital: make(map[string]DigitalInput),
		analog:  make(map[string]AnalogInput),
	}, nil
}

func (b *LinuxBoard) Output(name string) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o, ok := b.outputs[name]; ok {
		return o, nil
	}

	pin, ok := b.pins.Outputs[name]
	if !ok {
		return nil, fmt.Errorf("output %s: %w", name, ErrUnknownPin)
	}

	var out Output
	switch pin.Kind {
	case "", "gpio":
		// Request low so the actuator starts de-energized.
		line, err := b.chip.RequestLine(pin.Line, gpiod.AsOutput(0))
		if err != nil {
			return nil, fmt.Errorf("request output line %d: %w", pin.Line, err)
		}
		b.lines = append(b.lines, line)
		out = &gpioOutput{line: line}
	case "pwm":
		pwm, err := openSysfsPWM(b.pwmRoot, pin)
		if err != nil {
			return nil, err
		}
		out = pwm
	default:
		return nil, fmt.Errorf("output %s: unknown kind %q", name, pin.Kind)
	}

	b.outputs[name] = out
	return out, nil
}

func (b *LinuxBoard) DigitalInput(name string) (DigitalInput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.digital[name]; ok {
		return d, nil
	}

	pin, ok := b.pins.Digital[name]
	if !ok {
		return nil, fmt.Errorf("digital input %s: %w", name, ErrUnknownPin)
	}

	opts := []gpiod.LineReqOption{gpiod.AsInput}
	if pin.PullUp {
		opts = append(opts, gpiod.WithPullUp)
	}
	if pin.ActiveLow {
		opts = append(opts, gpiod.AsActiveLow)
	}

	line, err := b.chip.RequestLine(pin.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input line %d: %w", pin.Line, err)
	}
	b.lines = append(b.lines, line)

	in := &gpioInput{line: line}
	b.digital[name] = in
	return in, nil
}

func (b *LinuxBoard) AnalogInput(name string) (AnalogInput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.analog[name]; ok {
		return a, nil
	}

	pin, ok := b.pins.Analog[name]
	if !ok {
		return nil, fmt.Errorf("analog input %s: %w", name, ErrUnknownPin)
	}

	in := &iioInput{path: filepath.Join(b.iioRoot,
		fmt.Sprintf("iio:device%d", pin.Device),
		fmt.Sprintf("in_voltage%d_raw", pin.Channel))}
	b.analog[name] = in
	return in, nil
}

// Close de-energizes every output and releases all lines.
func (b *LinuxBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, o := range b.outputs {
		if err := o.Set(0); err != nil {
			errs = append(errs, fmt.Errorf("de-energize %s: %w", name, err))
		}
	}
	for _, line := range b.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	b.lines = nil

	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		b.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

type gpioOutput struct {
	line  *gpiod.Line
	level int
}

func (o *gpioOutput) Set(level int) error {
	v := 0
	if level > 0 {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set line value: %w", err)
	}
	o.level = level
	return nil
}

func (o *gpioOutput) Level() int { return o.level }

type gpioInput struct {
	line *gpiod.Line
}

func (i *gpioInput) Asserted() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line value: %w", err)
	}
	return v == 1, nil
}

// sysfsPWM drives /sys/class/pwm/pwmchipN/pwmM.
type sysfsPWM struct {
	dir      string
	periodNs int
	level    int
}

func openSysfsPWM(root string, pin OutputPin) (*sysfsPWM, error) {
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", pin.PWMChip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", pin.PWMChannel))

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := writeSysfs(filepath.Join(chipDir, "export"), strconv.Itoa(pin.PWMChannel)); err != nil {
			return nil, fmt.Errorf("export pwm channel: %w", err)
		}
	}

	period := pin.PeriodNs
	if period <= 0 {
		period = defaultPeriodNs
	}

	p := &sysfsPWM{dir: dir, periodNs: period}
	if err := writeSysfs(filepath.Join(dir, "period"), strconv.Itoa(period)); err != nil {
		return nil, fmt.Errorf("set pwm period: %w", err)
	}
	if err := p.Set(0); err != nil {
		return nil, err
	}
	if err := writeSysfs(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, fmt.Errorf("enable pwm: %w", err)
	}
	return p, nil
}

func (p *sysfsPWM) Set(level int) error {
	level = ClampDuty(level)
	duty := p.periodNs * level / MaxDuty
	if err := writeSysfs(filepath.Join(p.dir, "duty_cycle"), strconv.Itoa(duty)); err != nil {
		return fmt.Errorf("set pwm duty: %w", err)
	}
	p.level = level
	return nil
}

func (p *sysfsPWM) Level() int { return p.level }

type iioInput struct {
	path string
}

func (i *iioInput) Read() (float64, error) {
	data, err := os.ReadFile(i.path)
	if err != nil {
		return 0, fmt.Errorf("read adc: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse adc value: %w", err)
	}
	return v, nil
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
