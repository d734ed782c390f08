// Package alarms schedules callbacks at a delay relative to a timeline's
// current time, once or repeatedly.
package alarms

import (
	"github.com/simlane/timeline/scheduling"
)

// Callback is called when an alarm fires.
type Callback func(a *Alarm)

// Option configures an alarm.
type Option func(a *Alarm)

// Repeating makes the alarm fire again every delay after each firing.
func Repeating() Option {
	return func(a *Alarm) {
		a.repeating = true
	}
}

// RepeatEvery makes the alarm fire again every span after each firing.
func RepeatEvery(span scheduling.TimeSpan) Option {
	return func(a *Alarm) {
		a.repeating = true
		a.interval = span
	}
}

// An Alarm is a handle to a scheduled callback.
type Alarm struct {
	mgr       *Manager
	seq       uint64
	owner     any
	callback  Callback
	repeating bool
	interval  scheduling.TimeSpan

	nextFire scheduling.Time
	current  *scheduling.Handle
	fired    int
	canceled bool
}

// Owner returns the owner the alarm was added for.
func (a *Alarm) Owner() any {
	return a.owner
}

// Repeating tells if the alarm re-arms after firing.
func (a *Alarm) Repeating() bool {
	return a.repeating
}

// Interval returns the repeat interval.
func (a *Alarm) Interval() scheduling.TimeSpan {
	return a.interval
}

// NextFire returns when the alarm fires next, or scheduling.Never if it will
// not fire again.
func (a *Alarm) NextFire() scheduling.Time {
	if a.canceled {
		return scheduling.Never
	}

	return a.nextFire
}

// Fired returns how many times the callback has been called.
func (a *Alarm) Fired() int {
	return a.fired
}

// Canceled tells if the alarm has been canceled.
func (a *Alarm) Canceled() bool {
	return a.canceled
}

// Cancel stops the alarm. It is safe to call from inside the alarm's own
// callback and to call more than once.
func (a *Alarm) Cancel() {
	a.mgr.CancelAlarm(a)
}

// firing is the element that runs one firing of an alarm.
type firing struct {
	scheduling.ElementBase
	alarm *Alarm
	at    scheduling.Time
}

func (f *firing) Name() string {
	return "Alarm"
}

// Run re-arms a repeating alarm for at+interval before calling the callback,
// so that the callback's own cost never shifts later firings.
func (f *firing) Run(*scheduling.Timeline) (scheduling.Result, error) {
	a := f.alarm
	if a.canceled {
		return scheduling.Done(nil), nil
	}

	if a.repeating {
		if err := a.mgr.arm(a, f.at.Add(a.interval)); err != nil {
			return scheduling.Result{}, err
		}
	} else {
		a.nextFire = scheduling.Never
		a.mgr.forget(a)
	}

	a.fired++
	a.callback(a)

	return scheduling.Done(nil), nil
}

func (f *firing) Resume(*scheduling.Timeline, any) (scheduling.Result, error) {
	return scheduling.Done(nil), nil
}
