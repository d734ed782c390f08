package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// StepFunc is the body of a Generator. It is called once per resumption with
// the step number, starting at 0, and the value the generator was resumed
// with. It returns what the generator does next.
type StepFunc func(
	tl *scheduling.Timeline,
	step int,
	in any,
) (scheduling.Result, error)

// Generator turns a step function into an element that runs across many
// ticks. Each call may complete, delegate to a child, or suspend.
type Generator struct {
	scheduling.ElementBase
	name string
	body StepFunc
	step int
}

// NewGenerator creates a Generator element.
func NewGenerator(name string, body StepFunc) *Generator {
	return &Generator{name: name, body: body}
}

// Name returns the element's name.
func (e *Generator) Name() string {
	return e.name
}

// Step returns the number of the next step.
func (e *Generator) Step() int {
	return e.step
}

// Run calls step 0.
func (e *Generator) Run(tl *scheduling.Timeline) (scheduling.Result, error) {
	return e.call(tl, nil)
}

// Resume calls the next step.
func (e *Generator) Resume(
	tl *scheduling.Timeline,
	value any,
) (scheduling.Result, error) {
	return e.call(tl, value)
}

func (e *Generator) call(
	tl *scheduling.Timeline,
	in any,
) (scheduling.Result, error) {
	step := e.step
	e.step++

	return e.body(tl, step, in)
}
