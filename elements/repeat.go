package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// Repeat runs children produced by a factory, one at a time, until the count
// is reached or a soft stop arrives. A count of zero or less repeats until
// soft-stopped.
type Repeat struct {
	scheduling.ElementBase
	count   int
	factory func(i int) scheduling.Element
	done    int
}

// NewRepeat creates a Repeat element.
func NewRepeat(count int, factory func(i int) scheduling.Element) *Repeat {
	return &Repeat{count: count, factory: factory}
}

// Name returns the element's name.
func (e *Repeat) Name() string {
	return "Repeat"
}

// Iterations returns how many children have completed.
func (e *Repeat) Iterations() int {
	return e.done
}

// Run starts the first iteration.
func (e *Repeat) Run(*scheduling.Timeline) (scheduling.Result, error) {
	return e.next(), nil
}

// Resume starts the next iteration.
func (e *Repeat) Resume(*scheduling.Timeline, any) (scheduling.Result, error) {
	e.done++
	return e.next(), nil
}

func (e *Repeat) next() scheduling.Result {
	if e.SoftStopRequested() || (e.count > 0 && e.done >= e.count) {
		return scheduling.Done(e.done)
	}

	return scheduling.Delegate(e.factory(e.done))
}
