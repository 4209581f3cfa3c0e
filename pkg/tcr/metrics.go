package tcr

import "time"

// DurationObserver receives operation timings. Injected so the pool stays
// unit-testable without a real metrics backend.
type DurationObserver interface {
	ObserveDuration(name string, seconds float64)
}

// NoopDurationObserver discards all timings. The default.
type NoopDurationObserver struct{}

// ObserveDuration does nothing.
func (NoopDurationObserver) ObserveDuration(string, float64) {}

// measureDuration starts a timer and returns the func that records it.
//
//	defer measureDuration(observer, "set_key")()
func measureDuration(observer DurationObserver, name string) func() {
	start := time.Now()
	return func() {
		observer.ObserveDuration(name, time.Since(start).Seconds())
	}
}
