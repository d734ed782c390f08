package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// Sleep suspends for a fixed span and ignores soft stops.
type Sleep struct {
	scheduling.ElementBase
	span scheduling.TimeSpan
}

// NewSleep creates a Sleep element.
func NewSleep(span scheduling.TimeSpan) *Sleep {
	return &Sleep{span: span}
}

// Name returns the element's name.
func (e *Sleep) Name() string {
	return "Sleep"
}

// Run suspends the element.
func (e *Sleep) Run(*scheduling.Timeline) (scheduling.Result, error) {
	return scheduling.SuspendFor(e.span), nil
}

// Resume completes the element.
func (e *Sleep) Resume(*scheduling.Timeline, any) (scheduling.Result, error) {
	return scheduling.Done(nil), nil
}

// SoftSleep suspends for a span but wakes up as soon as a soft stop arrives.
// It completes with true if it slept the full span.
type SoftSleep struct {
	scheduling.ElementBase
	span    scheduling.TimeSpan
	wakeAt  scheduling.Time
	stopped bool
}

// NewSoftSleep creates a SoftSleep element.
func NewSoftSleep(span scheduling.TimeSpan) *SoftSleep {
	return &SoftSleep{span: span}
}

// Name returns the element's name.
func (e *SoftSleep) Name() string {
	return "SoftSleep"
}

// WakeOnSoftStop asks the timeline for an early resume.
func (e *SoftSleep) WakeOnSoftStop() bool {
	return true
}

// Run suspends the element, unless a soft stop already arrived.
func (e *SoftSleep) Run(tl *scheduling.Timeline) (scheduling.Result, error) {
	if e.SoftStopRequested() {
		return scheduling.Done(false), nil
	}

	e.wakeAt = tl.Now().Add(e.span)

	return scheduling.SuspendUntil(e.wakeAt), nil
}

// Resume completes the element.
func (e *SoftSleep) Resume(
	tl *scheduling.Timeline,
	_ any,
) (scheduling.Result, error) {
	return scheduling.Done(!tl.Now().Before(e.wakeAt)), nil
}
