package clock

import "time"

// Clock supplies time to components that wait, poll, or back off, so tests
// can drive those waits deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// System returns a Clock backed by the runtime wall clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (systemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
