package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// BusyWait polls a condition at a fixed interval until it holds. It
// completes with true when the condition held and false when a soft stop
// ended the wait.
type BusyWait struct {
	scheduling.ElementBase
	cond     func(tl *scheduling.Timeline) bool
	interval scheduling.TimeSpan
	polls    int
}

// NewBusyWait creates a BusyWait element. An interval below one tick is
// raised to one tick.
func NewBusyWait(
	cond func(tl *scheduling.Timeline) bool,
	interval scheduling.TimeSpan,
) *BusyWait {
	if interval < scheduling.Tick {
		interval = scheduling.Tick
	}

	return &BusyWait{cond: cond, interval: interval}
}

// Name returns the element's name.
func (e *BusyWait) Name() string {
	return "BusyWait"
}

// Polls returns how many times the condition has been checked.
func (e *BusyWait) Polls() int {
	return e.polls
}

// WakeOnSoftStop lets a soft stop end the wait without waiting another
// interval.
func (e *BusyWait) WakeOnSoftStop() bool {
	return true
}

// Run checks the condition for the first time.
func (e *BusyWait) Run(tl *scheduling.Timeline) (scheduling.Result, error) {
	return e.poll(tl), nil
}

// Resume checks the condition again.
func (e *BusyWait) Resume(
	tl *scheduling.Timeline,
	_ any,
) (scheduling.Result, error) {
	return e.poll(tl), nil
}

func (e *BusyWait) poll(tl *scheduling.Timeline) scheduling.Result {
	e.polls++

	if e.cond(tl) {
		return scheduling.Done(true)
	}

	if e.SoftStopRequested() {
		return scheduling.Done(false)
	}

	return scheduling.SuspendFor(e.interval)
}
