package tracing

import (
	"context"
	"errors"

	"github.com/simlane/timeline/datarecording"
	"github.com/simlane/timeline/scheduling"
)

// TaskQuery selects tasks from a recorded trace. Empty fields match
// everything.
type TaskQuery struct {
	Kind     string
	HandleID string
	Where    string
	State    string

	// EnableTimeRange keeps only tasks overlapping [StartTime, EndTime].
	EnableTimeRange bool
	StartTime       scheduling.Time
	EndTime         scheduling.Time

	Limit  int
	Offset int
}

// TraceReader reads tasks written by a DBTracer.
type TraceReader struct {
	reader datarecording.DataReader
}

// NewTraceReader creates a TraceReader over r.
func NewTraceReader(r datarecording.DataReader) *TraceReader {
	r.MapTable(TraceTableName, taskTableEntry{})
	return &TraceReader{reader: r}
}

// OpenTraceReader opens the trace recorded in the SQLite file at path.
func OpenTraceReader(path string) (*TraceReader, error) {
	r, err := datarecording.NewReader(path)
	if err != nil {
		return nil, err
	}

	return NewTraceReader(r), nil
}

// ListTasks returns the tasks matching q in start order, and how many match
// regardless of Limit and Offset.
func (r *TraceReader) ListTasks(
	ctx context.Context,
	q TaskQuery,
) ([]Task, int, error) {
	rows, total, err := datarecording.Select[taskTableEntry](
		ctx, r.reader, q.query())
	if err != nil {
		return nil, 0, err
	}

	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.task())
	}

	return tasks, total, nil
}

// Close closes the underlying reader.
func (r *TraceReader) Close() error {
	return r.reader.Close()
}

func (q TaskQuery) query() *datarecording.Query {
	query := datarecording.NewQuery(TraceTableName).
		OrderBy("StartTime").
		OrderBy("ID").
		Page(q.Limit, q.Offset)

	if q.Kind != "" {
		query.Eq("Kind", q.Kind)
	}
	if q.HandleID != "" {
		query.Eq("HandleID", q.HandleID)
	}
	if q.Where != "" {
		query.Eq("Location", q.Where)
	}
	if q.State != "" {
		query.Eq("State", q.State)
	}
	if q.EnableTimeRange {
		query.Overlaps("StartTime", "EndTime",
			int64(q.StartTime), int64(q.EndTime))
	}

	return query
}

func (e *taskTableEntry) task() Task {
	t := Task{
		ID:        e.ID,
		ParentID:  e.ParentID,
		HandleID:  e.HandleID,
		Kind:      e.Kind,
		What:      e.What,
		Where:     e.Location,
		StartTime: scheduling.Time(e.StartTime),
		EndTime:   scheduling.Time(e.EndTime),
		State:     e.State,
	}

	if e.Error != "" {
		t.Err = errors.New(e.Error)
	}

	return t
}
