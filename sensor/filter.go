// Package sensor implements the acquisition pipeline shared by every unit:
// a moving-average filter that smooths raw readings and the calibration
// curves that map filtered raw values to physical units.
package sensor

// DefaultWindow is the number of samples averaged by a Filter.
const DefaultWindow = 5

// Filter is a fixed-window simple moving average over raw readings.
// The buffer is circular: once full, each new sample overwrites the oldest.
// A Filter is not safe for concurrent use; each one is owned by the
// telemetry publisher that samples it.
type Filter struct {
	values []float64
	index  int
	count  int
}

// NewFilter creates a filter averaging the last window samples.
// A non-positive window falls back to DefaultWindow.
func NewFilter(window int) *Filter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Filter{values: make([]float64, window)}
}

// Add stores a raw reading, overwriting the oldest one when the window is full.
func (f *Filter) Add(raw float64) {
	f.values[f.index] = raw
	f.index = (f.index + 1) % len(f.values)
	if f.count < len(f.values) {
		f.count++
	}
}

// Value returns the mean of the stored readings, or 0 before the first one.
// It is recomputed from the buffer on every call.
func (f *Filter) Value() float64 {
	if f.count == 0 {
		return 0
	}

	sum := 0.0
	for i := 0; i < f.count; i++ {
		sum += f.values[i]
	}
	return sum / float64(f.count)
}

// Count returns how many slots of the window hold a reading.
func (f *Filter) Count() int {
	return f.count
}

// Capacity returns the window size.
func (f *Filter) Capacity() int {
	return len(f.values)
}

// Reset discards all stored readings.
func (f *Filter) Reset() {
	for i := range f.values {
		f.values[i] = 0
	}
	f.index = 0
	f.count = 0
}
