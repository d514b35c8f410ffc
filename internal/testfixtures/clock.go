// Package testfixtures provides deterministic clocks, identifiers and
// schedule records for tests across the module.
package testfixtures

import (
	"sync"
	"time"
)

// referenceTime is Thursday 2024-03-14 09:00 UTC, the baseline instant the
// module's time-sensitive tests compute offsets from.
var referenceTime = time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Clock is a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock initialised to start, or to ReferenceTime when
// start is the zero value.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = referenceTime
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set moves the clock to the provided time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}
