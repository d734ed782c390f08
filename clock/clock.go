// Package clock provides the time sources that timelines are driven to.
package clock

import (
	"sync"
	"time"

	"github.com/simlane/timeline/scheduling"
)

// A Clock tells the current time in ticks.
type Clock interface {
	Now() scheduling.Time
}

// A SteppedClock only moves when told to. It is safe for concurrent use.
type SteppedClock struct {
	mu  sync.RWMutex
	now scheduling.Time
}

// NewSteppedClock creates a SteppedClock at start.
func NewSteppedClock(start scheduling.Time) *SteppedClock {
	return &SteppedClock{now: start}
}

// Now returns the current time.
func (c *SteppedClock) Now() scheduling.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.now
}

// Advance moves the clock forward by d and returns the new time. Negative
// spans panic.
func (c *SteppedClock) Advance(d scheduling.TimeSpan) scheduling.Time {
	if d < 0 {
		panic("clock: cannot advance by a negative span")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	return c.now
}

// Set moves the clock to t. Moving backwards panics.
func (c *SteppedClock) Set(t scheduling.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t < c.now {
		panic("clock: cannot move a clock backwards")
	}

	c.now = t
}

// A WallClock counts real milliseconds since it was created.
type WallClock struct {
	start  time.Time
	source func() time.Time
}

// NewWallClock creates a WallClock reading from time.Now.
func NewWallClock() *WallClock {
	return NewWallClockFrom(time.Now)
}

// NewWallClockFrom creates a WallClock reading from source.
func NewWallClockFrom(source func() time.Time) *WallClock {
	return &WallClock{start: source(), source: source}
}

// Now returns the milliseconds elapsed since the clock was created.
func (c *WallClock) Now() scheduling.Time {
	return scheduling.Time(c.source().Sub(c.start) / time.Millisecond)
}
