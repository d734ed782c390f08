package scheduling

// NodeID identifies an element in a timeline's arena. Zero means no node.
type NodeID uint64

// State is the lifecycle state of a scheduled element.
type State int

// Element lifecycle states.
const (
	StateCreated State = iota
	StateRunning
	StateSuspended
	StateCompleted
	StateHardStopped
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateHardStopped:
		return "hard-stopped"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// node is the timeline's record of one element. The parent is referenced by
// ID only; the child is owned.
type node struct {
	id       NodeID
	elem     Element
	parent   NodeID
	child    NodeID
	state    State
	softStop bool
}

// FinishReason tells why a handle finished.
type FinishReason int

// Reasons a handle can finish for.
const (
	FinishCompleted FinishReason = iota
	FinishHardStopped
	FinishCanceled
	FinishFailed
)

func (r FinishReason) String() string {
	switch r {
	case FinishCompleted:
		return "completed"
	case FinishHardStopped:
		return "hard-stopped"
	case FinishCanceled:
		return "canceled"
	case FinishFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the final result of a handle.
type Outcome struct {
	Reason FinishReason
	Value  any
	Err    error
}

// HandleStatus is where a handle is in its life.
type HandleStatus int

// Handle statuses.
const (
	// HandleQueued means the root element has not started yet.
	HandleQueued HandleStatus = iota

	// HandleRunning means one of the handle's elements is executing.
	HandleRunning

	// HandleSuspended means the chain is parked, on a timer or a wake.
	HandleSuspended

	// HandleFinished means the chain is gone.
	HandleFinished
)

func (s HandleStatus) String() string {
	switch s {
	case HandleQueued:
		return "queued"
	case HandleRunning:
		return "running"
	case HandleSuspended:
		return "suspended"
	case HandleFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// A Handle refers to one scheduled element chain on a Timeline.
type Handle struct {
	id  string
	seq uint64
	tl  *Timeline

	root   NodeID
	active NodeID

	status        HandleStatus
	pending       *entry
	waitingWake   bool
	softRequested bool
	stopRequested bool
	stopping      bool
	stopReason    FinishReason

	outcome  Outcome
	onFinish []func(Outcome)
}

// ID returns the handle's ID.
func (h *Handle) ID() string {
	return h.id
}

// Timeline returns the timeline the handle lives on.
func (h *Handle) Timeline() *Timeline {
	return h.tl
}

// Status returns the handle's status.
func (h *Handle) Status() HandleStatus {
	return h.status
}

// Done tells if the handle has finished.
func (h *Handle) Done() bool {
	return h.status == HandleFinished
}

// Outcome returns the final outcome. It is only meaningful once Done.
func (h *Handle) Outcome() Outcome {
	return h.outcome
}

// When returns the time of the handle's next activation, or Never if it is
// not queued.
func (h *Handle) When() Time {
	if h.pending == nil {
		return Never
	}

	return h.pending.when
}

// WaitingForWake tells if the handle is parked until Wake is called.
func (h *Handle) WaitingForWake() bool {
	return h.waitingWake
}

// SoftStopRequested tells if SoftStop has been called on the handle.
func (h *Handle) SoftStopRequested() bool {
	return h.softRequested
}

// Element returns the root element, or nil once finished.
func (h *Handle) Element() Element {
	n := h.tl.nodes[h.root]
	if n == nil {
		return nil
	}

	return n.elem
}

// Active returns the deepest running or suspended element, or nil once
// finished.
func (h *Handle) Active() Element {
	n := h.tl.nodes[h.active]
	if n == nil {
		return nil
	}

	return n.elem
}

// Depth returns the length of the element chain.
func (h *Handle) Depth() int {
	depth := 0
	for id := h.active; id != 0; {
		n := h.tl.nodes[id]
		if n == nil {
			break
		}

		depth++
		id = n.parent
	}

	return depth
}

// OnFinish registers f to be called once the handle finishes. If it has
// already finished, f is called immediately.
func (h *Handle) OnFinish(f func(Outcome)) {
	if h.status == HandleFinished {
		f(h.outcome)
		return
	}

	h.onFinish = append(h.onFinish, f)
}
