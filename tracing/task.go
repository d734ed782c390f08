package tracing

import (
	"github.com/simlane/timeline/scheduling"
)

// A Task is one element's stay on a timeline, from start to teardown.
type Task struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parent_id"`
	HandleID  string          `json:"handle_id"`
	Kind      string          `json:"kind"`
	What      string          `json:"what"`
	Where     string          `json:"where"`
	StartTime scheduling.Time `json:"start_time"`
	EndTime   scheduling.Time `json:"end_time"`
	State     string          `json:"state"`
	Err       error           `json:"-"`
}

// Failed tells if the element ended with an error.
func (t Task) Failed() bool {
	return t.Err != nil
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// AllTasks accepts every task.
func AllTasks(Task) bool {
	return true
}

// KindIs accepts tasks of the given kind.
func KindIs(kind string) TaskFilter {
	return func(t Task) bool {
		return t.Kind == kind
	}
}
