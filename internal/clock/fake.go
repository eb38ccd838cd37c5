package clock

import "time"

// FakeClock is a Clock pinned to a fixed instant. Sweep-window and reminder
// tests advance it explicitly instead of sleeping.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward, e.g. across a reminder day boundary.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
