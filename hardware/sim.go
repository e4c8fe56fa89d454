package hardware

import (
	"sync"
	"time"

	"exoskeleton/clock"
)

// SimBoard is an in-memory Board. Pins are created on first lookup, so a
// profile can be wired against it without a pin map. Tests drive inputs
// with Set/SetFunc and inspect outputs through History.
type SimBoard struct {
	mu      sync.Mutex
	outputs map[string]*SimOutput
	digital map[string]*SimDigital
	analog  map[string]*SimAnalog
}

// NewSimBoard creates an empty simulated board.
func NewSimBoard() *SimBoard {
	return &SimBoard{
		outputs: make(map[string]*SimOutput),
		digital: make(map[string]*SimDigital),
		analog:  make(map[string]*SimAnalog),
	}
}

func (b *SimBoard) Output(name string) (Output, error) {
	return b.SimOutput(name), nil
}

func (b *SimBoard) DigitalInput(name string) (DigitalInput, error) {
	return b.SimDigital(name), nil
}

func (b *SimBoard) AnalogInput(name string) (AnalogInput, error) {
	return b.SimAnalog(name), nil
}

func (b *SimBoard) Close() error { return nil }

// SimOutput returns the named simulated output, creating it if needed.
func (b *SimBoard) SimOutput(name string) *SimOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.outputs[name]
	if !ok {
		o = &SimOutput{}
		b.outputs[name] = o
	}
	return o
}

// SimDigital returns the named simulated digital input, creating it if needed.
func (b *SimBoard) SimDigital(name string) *SimDigital {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.digital[name]
	if !ok {
		d = &SimDigital{}
		b.digital[name] = d
	}
	return d
}

// SimAnalog returns the named simulated analog input, creating it if needed.
func (b *SimBoard) SimAnalog(name string) *SimAnalog {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.analog[name]
	if !ok {
		a = &SimAnalog{}
		b.analog[name] = a
	}
	return a
}

// SimOutput records every level it is set to.
type SimOutput struct {
	mu      sync.Mutex
	level   int
	history []int
	err     error
}

func (o *SimOutput) Set(level int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.level = level
	o.history = append(o.history, level)
	return nil
}

func (o *SimOutput) Level() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// History returns every level passed to a successful Set.
func (o *SimOutput) History() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int, len(o.history))
	copy(out, o.history)
	return out
}

// FailWith makes subsequent Set calls return err. nil clears the fault.
func (o *SimOutput) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// SimDigital is a settable discrete input.
type SimDigital struct {
	mu    sync.Mutex
	value bool
	fn    func() (bool, error)
}

func (d *SimDigital) Asserted() (bool, error) {
	d.mu.Lock()
	fn, value := d.fn, d.value
	d.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return value, nil
}

// Set fixes the input level.
func (d *SimDigital) Set(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = v
	d.fn = nil
}

// SetFunc makes the input level computed on every read.
func (d *SimDigital) SetFunc(fn func() (bool, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fn = fn
}

// SimAnalog is a settable analog input.
type SimAnalog struct {
	mu    sync.Mutex
	value float64
	fn    func() (float64, error)
}

func (a *SimAnalog) Read() (float64, error) {
	a.mu.Lock()
	fn, value := a.fn, a.value
	a.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return value, nil
}

// Set fixes the reading.
func (a *SimAnalog) Set(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
	a.fn = nil
}

// SetFunc makes the reading computed on every read.
func (a *SimAnalog) SetFunc(fn func() (float64, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fn = fn
}

// FollowOutput models a limit switch at the end of travel: input asserts
// once output has been energized continuously for delay and stays asserted
// until the release output is energized. release may be empty.
func (b *SimBoard) FollowOutput(output, release, input string, delay time.Duration, clk clock.Clock) {
	out := b.SimOutput(output)
	var back *SimOutput
	if release != "" {
		back = b.SimOutput(release)
	}

	var (
		mu      sync.Mutex
		since   time.Time
		latched bool
	)
	b.SimDigital(input).SetFunc(func() (bool, error) {
		mu.Lock()
		defer mu.Unlock()

		if back != nil && back.Level() > 0 {
			latched = false
			since = time.Time{}
			return false, nil
		}
		if out.Level() == 0 {
			since = time.Time{}
			return latched, nil
		}
		now := clk.Now()
		if since.IsZero() {
			since = now
		}
		if now.Sub(since) >= delay {
			latched = true
		}
		return latched, nil
	})
}

// RampWhileEnergized makes input rise by ratePerSecond counts while output
// is energized, holding its value otherwise.
func (b *SimBoard) RampWhileEnergized(output, input string, ratePerSecond float64, clk clock.Clock) {
	out := b.SimOutput(output)
	var value float64
	last := clk.Now()
	b.SimAnalog(input).SetFunc(func() (float64, error) {
		now := clk.Now()
		if out.Level() > 0 {
			value += ratePerSecond * now.Sub(last).Seconds()
		}
		last = now
		return value, nil
	})
}
