// Package clock abstracts the time source used for session and token
// bookkeeping so tests can advance time deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Times returned by Real carry Go's
// monotonic reading, so comparisons between them are immune to wall
// clock adjustments.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns the process clock.
func Real() Clock { return realClock{} }

// FakeClock is a Clock that only moves when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
