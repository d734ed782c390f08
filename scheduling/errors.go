package scheduling

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrDoubleRelease is raised when a Registration is released twice.
	ErrDoubleRelease = errors.New("scheduling: registration released twice")

	// ErrResumeTornDown is raised when the timeline is asked to resume an
	// element that has already been torn down.
	ErrResumeTornDown = errors.New("scheduling: resuming a torn-down element")

	// ErrNotSuspended is returned by Wake when the handle is not waiting.
	ErrNotSuspended = errors.New("scheduling: handle is not waiting for a wake")

	// ErrTimelineTornDown is returned when scheduling on a torn-down timeline.
	ErrTimelineTornDown = errors.New("scheduling: timeline has been torn down")
)

// InvalidScheduleError reports an attempt to schedule work in the past.
type InvalidScheduleError struct {
	Timeline string
	At       Time
	Now      Time
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf(
		"scheduling: cannot schedule on timeline %s at %s, now is %s",
		e.Timeline, e.At, e.Now,
	)
}

// ElementError wraps a failure raised while running or resuming an element.
type ElementError struct {
	Timeline string
	HandleID string
	Element  Element
	Phase    string
	Err      error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf(
		"scheduling: %s of %s (handle %s) on timeline %s failed: %v",
		e.Phase, ElementName(e.Element), e.HandleID, e.Timeline, e.Err,
	)
}

// Unwrap returns the underlying error.
func (e *ElementError) Unwrap() error {
	return e.Err
}

// Cause supports errors.Cause.
func (e *ElementError) Cause() error {
	return e.Err
}

// Format prints the stack of the underlying error with %+v.
func (e *ElementError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s\n%+v", e.Error(), e.Err)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Named is implemented by elements that want a readable name in reports.
type Named interface {
	Name() string
}

// ElementName returns a readable name for e.
func ElementName(e Element) string {
	if e == nil {
		return "<nil>"
	}

	if n, ok := e.(Named); ok && n.Name() != "" {
		return n.Name()
	}

	return reflect.TypeOf(e).String()
}

func stackOf(err *ElementError) string {
	return fmt.Sprintf("%+v", err.Err)
}
