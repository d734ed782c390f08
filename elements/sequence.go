package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// Sequence runs its children one after another. A soft stop keeps the
// remaining children from starting. The sequence completes with the results
// of the children that ran.
type Sequence struct {
	scheduling.ElementBase
	name     string
	critical bool
	children []scheduling.Element
	next     int
	results  []any
}

// NewSequence creates a Sequence element.
func NewSequence(children ...scheduling.Element) *Sequence {
	return &Sequence{name: "Sequence", children: children}
}

// Name returns the element's name.
func (e *Sequence) Name() string {
	return e.name
}

// Results returns the results gathered so far.
func (e *Sequence) Results() []any {
	return e.results
}

// Run starts the first child.
func (e *Sequence) Run(*scheduling.Timeline) (scheduling.Result, error) {
	return e.advance(), nil
}

// Resume records the finished child's result and starts the next one.
func (e *Sequence) Resume(
	_ *scheduling.Timeline,
	value any,
) (scheduling.Result, error) {
	e.results = append(e.results, value)
	return e.advance(), nil
}

func (e *Sequence) advance() scheduling.Result {
	if e.next >= len(e.children) || e.stopping() {
		return scheduling.Done(e.results)
	}

	child := e.children[e.next]
	e.next++

	return scheduling.Delegate(child)
}

func (e *Sequence) stopping() bool {
	return e.SoftStopRequested() && !e.critical
}

// NewCriticalSection creates a sequence that runs every child even if a soft
// stop arrives. The soft stop does not reach the children either. A hard stop
// still ends it.
func NewCriticalSection(children ...scheduling.Element) *CriticalSection {
	return &CriticalSection{
		Sequence: Sequence{
			name:     "CriticalSection",
			critical: true,
			children: children,
		},
	}
}

// CriticalSection is a Sequence that cannot be soft-stopped.
type CriticalSection struct {
	Sequence
}

// BlocksSoftStop keeps soft stops away from the children.
func (e *CriticalSection) BlocksSoftStop() bool {
	return true
}
