package tracing

import (
	"sort"
	"sync"
)

// CountTracer counts how elements of interest end, per kind and end state.
type CountTracer struct {
	filter  TaskFilter
	lock    sync.Mutex
	started map[string]uint64
	ended   map[string]map[string]uint64
	failed  map[string]uint64
}

// NewCountTracer creates a new CountTracer.
func NewCountTracer(filter TaskFilter) *CountTracer {
	return &CountTracer{
		filter:  filter,
		started: make(map[string]uint64),
		ended:   make(map[string]map[string]uint64),
		failed:  make(map[string]uint64),
	}
}

// StartTask counts a start.
func (t *CountTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.started[task.Kind]++
	t.lock.Unlock()
}

// EndTask counts an end.
func (t *CountTracer) EndTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	byState, ok := t.ended[task.Kind]
	if !ok {
		byState = make(map[string]uint64)
		t.ended[task.Kind] = byState
	}
	byState[task.State]++

	if task.Failed() {
		t.failed[task.Kind]++
	}
}

// Kinds returns the kinds seen so far, sorted.
func (t *CountTracer) Kinds() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	seen := make(map[string]bool)
	for k := range t.started {
		seen[k] = true
	}
	for k := range t.ended {
		seen[k] = true
	}

	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	return kinds
}

// Started returns how many elements of kind have started.
func (t *CountTracer) Started(kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.started[kind]
}

// Ended returns how many elements of kind ended in state.
func (t *CountTracer) Ended(kind, state string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.ended[kind][state]
}

// Failed returns how many elements of kind ended with an error.
func (t *CountTracer) Failed(kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.failed[kind]
}
