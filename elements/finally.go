package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// WithFinally runs a child and then a finally callback. The callback runs
// exactly once, whether the child completes, fails, or is stopped.
type WithFinally struct {
	scheduling.ElementBase
	child   scheduling.Element
	finally func()
	ran     bool
}

// NewWithFinally creates a WithFinally element.
func NewWithFinally(child scheduling.Element, finally func()) *WithFinally {
	e := &WithFinally{child: child, finally: finally}
	e.OnTeardown(e.runFinally)

	return e
}

// BuildCriticalSectionWithFinally runs children in a critical section and
// calls finally once the section is over.
func BuildCriticalSectionWithFinally(
	finally func(),
	children ...scheduling.Element,
) *WithFinally {
	return NewWithFinally(NewCriticalSection(children...), finally)
}

// Name returns the element's name.
func (e *WithFinally) Name() string {
	return "WithFinally(" + scheduling.ElementName(e.child) + ")"
}

// Run delegates to the child.
func (e *WithFinally) Run(*scheduling.Timeline) (scheduling.Result, error) {
	return scheduling.Delegate(e.child), nil
}

// Resume runs the finally callback and completes with the child's result.
func (e *WithFinally) Resume(
	_ *scheduling.Timeline,
	value any,
) (scheduling.Result, error) {
	e.runFinally()
	return scheduling.Done(value), nil
}

func (e *WithFinally) runFinally() {
	if e.ran {
		return
	}

	e.ran = true
	if e.finally != nil {
		e.finally()
	}
}
