// Package elements provides the common element kinds that higher-level work
// is composed from.
package elements

import (
	"github.com/simlane/timeline/scheduling"
)

// Function is an element that calls a function once and completes with its
// return value.
type Function struct {
	scheduling.ElementBase
	name string
	f    func(tl *scheduling.Timeline) (any, error)
}

// NewFunction creates a Function element.
func NewFunction(
	name string,
	f func(tl *scheduling.Timeline) (any, error),
) *Function {
	return &Function{name: name, f: f}
}

// Do wraps a plain callback into a Function element.
func Do(name string, f func(tl *scheduling.Timeline)) *Function {
	return NewFunction(name, func(tl *scheduling.Timeline) (any, error) {
		f(tl)
		return nil, nil
	})
}

// Name returns the element's name.
func (e *Function) Name() string {
	return e.name
}

// Run calls the function.
func (e *Function) Run(tl *scheduling.Timeline) (scheduling.Result, error) {
	v, err := e.f(tl)
	if err != nil {
		return scheduling.Result{}, err
	}

	return scheduling.Done(v), nil
}

// Resume is never expected; a Function does not suspend.
func (e *Function) Resume(
	_ *scheduling.Timeline,
	value any,
) (scheduling.Result, error) {
	return scheduling.Done(value), nil
}
