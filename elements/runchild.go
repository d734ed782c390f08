package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// RunChild is a parent element that runs a single child and completes with
// the child's result.
type RunChild struct {
	scheduling.ElementBase
	child scheduling.Element
}

// NewRunChild creates a RunChild element.
func NewRunChild(child scheduling.Element) *RunChild {
	return &RunChild{child: child}
}

// Name returns the element's name.
func (e *RunChild) Name() string {
	return "RunChild(" + scheduling.ElementName(e.child) + ")"
}

// Run delegates to the child.
func (e *RunChild) Run(*scheduling.Timeline) (scheduling.Result, error) {
	return scheduling.Delegate(e.child), nil
}

// Resume completes with the child's result.
func (e *RunChild) Resume(
	_ *scheduling.Timeline,
	value any,
) (scheduling.Result, error) {
	return scheduling.Done(value), nil
}
