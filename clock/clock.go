// Package clock provides the time source used by the unit runtime.
//
// Components that read the time or wait between attempts take a Clock at
// construction instead of calling the time package directly. Production code
// passes Real(); tests pass Fake() and move time forward explicitly, so
// timeouts and retry delays are exercised without waiting in real time.
package clock

import "time"

// Clock abstracts the two time operations the runtime needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the caller for at least d.
	Sleep(d time.Duration)
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
