package scheduling

import (
	"fmt"
	"math"
)

// Time is a point on a Timeline, counted in ticks. Times taken from different
// clocks are not comparable.
type Time int64

// TimeSpan is the distance between two Times on the same clock.
type TimeSpan int64

// Units of TimeSpan. One tick is one millisecond of the driving clock.
const (
	Tick        TimeSpan = 1
	Millisecond TimeSpan = 1
	Second               = 1000 * Millisecond
	Minute               = 60 * Second
	Hour                 = 60 * Minute
)

// Never is later than any Time a clock can produce.
const Never = Time(math.MaxInt64)

// Add returns t shifted by d.
func (t Time) Add(d TimeSpan) Time {
	return t + Time(d)
}

// Sub returns the span from u to t.
func (t Time) Sub(u Time) TimeSpan {
	return TimeSpan(t - u)
}

// Before reports whether t happens before u.
func (t Time) Before(u Time) bool {
	return t < u
}

// After reports whether t happens after u.
func (t Time) After(u Time) bool {
	return t > u
}

func (t Time) String() string {
	if t == Never {
		return "never"
	}

	return fmt.Sprintf("t%d", int64(t))
}

// Ticks returns the span as a raw tick count.
func (d TimeSpan) Ticks() int64 {
	return int64(d)
}

func (d TimeSpan) String() string {
	return fmt.Sprintf("%dticks", int64(d))
}
