package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecInfo is one property of a program execution.
type ExecInfo struct {
	Property string
	Value    string
}

// ExecTableName is the table run information is stored in.
const ExecTableName = "exec_info"

const execTimeLayout = "2006-01-02 15:04:05.000000000"

// execRecorder records how and when the program ran.
type execRecorder struct {
	recorder DataRecorder
}

func newExecRecorder(recorder DataRecorder) *execRecorder {
	e := &execRecorder{recorder: recorder}
	recorder.CreateTable(ExecTableName, ExecInfo{})

	return e
}

// Start records the start time, the command line and the working directory.
func (e *execRecorder) Start() {
	e.record("Start Time", time.Now().Format(execTimeLayout))
	e.record("Command", strings.Join(os.Args, " "))

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	e.record("Working Directory", cwd)
}

// End records the end time.
func (e *execRecorder) End() {
	e.record("End Time", time.Now().Format(execTimeLayout))
}

func (e *execRecorder) record(property, value string) {
	e.recorder.InsertData(ExecTableName, ExecInfo{property, value})
}

// RecordProperty adds a property of the run to the run information table.
// The recorder must have been created with NewDataRecorder.
func RecordProperty(recorder DataRecorder, property, value string) {
	recorder.InsertData(ExecTableName, ExecInfo{property, value})
}
