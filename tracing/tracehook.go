package tracing

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/simlane/timeline/scheduling"
)

// CollectTrace lets the tracer collect traces from a timeline.
func CollectTrace(tl *scheduling.Timeline, tracer Tracer) {
	for _, hook := range tl.Hooks() {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"timeline %s already has tracer %s",
				tl.Name(), reflect.TypeOf(tracer)))
		}
	}

	h := traceHook{t: tracer}
	tl.AcceptHook(&h)
}

// A traceHook turns element steps into tasks.
type traceHook struct {
	t Tracer
}

// Func calls the tracer when an element starts or ends.
func (h *traceHook) Func(ctx scheduling.HookCtx) {
	if ctx.Pos != scheduling.HookPosElementStart &&
		ctx.Pos != scheduling.HookPosElementEnd {
		return
	}

	tl, ok := ctx.Domain.(*scheduling.Timeline)
	if !ok {
		return
	}

	step := ctx.Item.(scheduling.ElementStep)
	task := taskFromStep(tl, step)

	if ctx.Pos == scheduling.HookPosElementStart {
		task.StartTime = tl.Now()
		h.t.StartTask(task)

		return
	}

	task.EndTime = tl.Now()
	task.State = step.State.String()
	task.Err = step.Err
	h.t.EndTask(task)
}

func taskFromStep(tl *scheduling.Timeline, step scheduling.ElementStep) Task {
	task := Task{
		ID:       taskID(step.Handle, step.NodeID),
		HandleID: step.Handle.ID(),
		Kind:     reflect.TypeOf(step.Element).String(),
		What:     scheduling.ElementName(step.Element),
		Where:    tl.Name(),
	}

	if step.Parent != 0 {
		task.ParentID = taskID(step.Handle, step.Parent)
	}

	return task
}

func taskID(h *scheduling.Handle, node scheduling.NodeID) string {
	return h.ID() + "." + strconv.FormatUint(uint64(node), 10)
}
