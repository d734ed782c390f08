package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/simlane/timeline/datarecording"
	"github.com/simlane/timeline/scheduling"
)

// TraceTableName is the table DBTracer writes tasks into.
const TraceTableName = "trace"

type taskTableEntry struct {
	ID        string
	ParentID  string
	HandleID  string
	Kind      string
	What      string
	Location  string
	StartTime int64
	EndTime   int64
	State     string
	Error     string
}

// DBTracer is a tracer that stores finished tasks into a data recorder.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder

	startTime, endTime scheduling.Time

	tracingTasks map[string]Task
	written      int
}

// NewDBTracer creates a new DBTracer and its table.
func NewDBTracer(dataRecorder datarecording.DataRecorder) *DBTracer {
	dataRecorder.CreateTable(TraceTableName, taskTableEntry{})

	t := &DBTracer{
		backend:      dataRecorder,
		endTime:      scheduling.Never,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// SetTimeRange limits tracing to tasks that overlap [startTime, endTime].
func (t *DBTracer) SetTimeRange(startTime, endTime scheduling.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = task
}

// EndTask writes the finished task.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}
	delete(t.tracingTasks, task.ID)

	if task.EndTime < t.startTime {
		return
	}

	original.EndTime = task.EndTime
	original.State = task.State
	original.Err = task.Err

	t.write(original)
}

func (t *DBTracer) write(task Task) {
	entry := taskTableEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		HandleID:  task.HandleID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: int64(task.StartTime),
		EndTime:   int64(task.EndTime),
		State:     task.State,
	}

	if task.Err != nil {
		entry.Error = task.Err.Error()
	}

	t.backend.InsertData(TraceTableName, entry)
	t.written++
}

// Written returns how many tasks have been written.
func (t *DBTracer) Written() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.written
}

// Terminate drops unfinished tasks and flushes the recorder.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}
