package narrate

import "time"

// SystemClock implements core.Clock over the process monotonic clock, for
// headless deployments that have no host renderer clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock anchors a monotonic clock at the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now returns seconds elapsed since the clock was created.
func (c *SystemClock) Now() float64 {
	return time.Since(c.start).Seconds()
}
