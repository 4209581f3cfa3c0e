package tcr

import "sync/atomic"

// AvailabilityTracker is the process-wide health flag for a connection pool.
// It starts available and is flipped down by the error monitor on observed
// disconnection. It never resets to true on its own; recovery detection is an
// external concern, a flagged pool stays down until it is recycled.
type AvailabilityTracker struct {
	available atomic.Bool
}

// NewAvailabilityTracker creates the tracker in the available state.
func NewAvailabilityTracker() *AvailabilityTracker {
	tracker := &AvailabilityTracker{}
	tracker.available.Store(true)
	return tracker
}

// IsAvailable is a cheap read for callers wanting to fail fast during outages.
func (at *AvailabilityTracker) IsAvailable() bool {
	return at.available.Load()
}

// MarkUnavailable flags the pool down.
func (at *AvailabilityTracker) MarkUnavailable() {
	at.available.Store(false)
}
