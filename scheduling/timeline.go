package scheduling

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ExceptionReporter receives failures raised by elements.
type ExceptionReporter func(tl *Timeline, err *ElementError)

// TimeAdvancedFunc is called each time a timeline's now moves forward.
type TimeAdvancedFunc func(prev, now Time)

// A Timeline is a cooperative scheduler for one logical clock.
//
// A Timeline is driven by a single goroutine. Elements run one after another
// in (time, insertion order) and may schedule, cancel or stop other work
// while running.
type Timeline struct {
	*HookableBase

	name string
	now  Time

	queue   *entryQueue
	nextSeq uint64

	nodes    map[NodeID]*node
	nextNode NodeID

	live          map[uint64]*Handle
	nextHandleSeq uint64

	onTimeAdvanced []TimeAdvancedFunc
	reporter       ExceptionReporter
	logger         *zap.Logger
	idGenerator    IDGenerator
	wallNow        func() time.Time

	running  *Handle
	draining bool
	tornDown bool
}

// NewTimeline creates a timeline whose now starts at start.
func NewTimeline(name string, start Time) *Timeline {
	tl := &Timeline{
		HookableBase: NewHookableBase(),
		name:         name,
		now:          start,
		queue:        newEntryQueue(),
		nodes:        make(map[NodeID]*node),
		live:         make(map[uint64]*Handle),
		logger:       zap.L(),
		idGenerator:  NewSequentialIDGenerator(),
		wallNow:      time.Now,
	}
	tl.reporter = logException

	return tl
}

// Name returns the timeline's name.
func (tl *Timeline) Name() string {
	return tl.name
}

// Now returns the time the timeline last advanced to.
func (tl *Timeline) Now() Time {
	return tl.now
}

// SetExceptionReporter replaces the reporter that receives element failures.
func (tl *Timeline) SetExceptionReporter(r ExceptionReporter) {
	if r == nil {
		r = logException
	}

	tl.reporter = r
}

// SetLogger sets the logger used by the default exception reporter.
func (tl *Timeline) SetLogger(logger *zap.Logger) {
	tl.logger = logger
}

// Logger returns the timeline's logger.
func (tl *Timeline) Logger() *zap.Logger {
	return tl.logger
}

// SetIDGenerator sets the generator used for handle IDs.
func (tl *Timeline) SetIDGenerator(g IDGenerator) {
	tl.idGenerator = g
}

// SetWallClock replaces the real-time source used to measure time slices.
func (tl *Timeline) SetWallClock(now func() time.Time) {
	tl.wallNow = now
}

// AddTimeAdvancedCallback registers f to run after every advance of now.
func (tl *Timeline) AddTimeAdvancedCallback(f TimeAdvancedFunc) {
	tl.onTimeAdvanced = append(tl.onTimeAdvanced, f)
}

// Len returns the number of queued entries.
func (tl *Timeline) Len() int {
	return tl.queue.Len()
}

// NumLive returns the number of unfinished handles, including those parked
// until a wake.
func (tl *Timeline) NumLive() int {
	return len(tl.live)
}

// NextTime returns the time of the earliest queued entry, or Never.
func (tl *Timeline) NextTime() Time {
	e := tl.queue.Peek()
	if e == nil {
		return Never
	}

	return e.when
}

// Running returns the handle whose element is executing, if any.
func (tl *Timeline) Running() *Handle {
	return tl.running
}

// TornDown tells if Teardown has been called.
func (tl *Timeline) TornDown() bool {
	return tl.tornDown
}

// Schedule queues e to start at time at.
func (tl *Timeline) Schedule(e Element, at Time) (*Handle, error) {
	if e == nil {
		return nil, errors.New("scheduling: cannot schedule a nil element")
	}

	if tl.tornDown {
		return nil, ErrTimelineTornDown
	}

	if at < tl.now {
		return nil, &InvalidScheduleError{Timeline: tl.name, At: at, Now: tl.now}
	}

	tl.nextHandleSeq++
	h := &Handle{
		id:  tl.idGenerator.Generate(),
		seq: tl.nextHandleSeq,
		tl:  tl,
	}

	root := tl.newNode(e, 0)
	h.root = root.id
	h.active = root.id
	h.status = HandleQueued

	tl.live[h.seq] = h
	tl.enqueue(h, at, nil)

	return h, nil
}

// ScheduleAfter queues e to start d ticks from now.
func (tl *Timeline) ScheduleAfter(e Element, d TimeSpan) (*Handle, error) {
	if d < 0 {
		return nil, &InvalidScheduleError{
			Timeline: tl.name, At: tl.now.Add(d), Now: tl.now,
		}
	}

	return tl.Schedule(e, tl.now.Add(d))
}

// Cancel withdraws h. A handle that has not started is removed from the
// queue and its element torn down without running. A handle that already
// started is hard-stopped. Cancelling a finished handle does nothing.
func (tl *Timeline) Cancel(h *Handle) {
	tl.stop(h, FinishCanceled)
}

// HardStop terminates h immediately, stopping and tearing down the deepest
// element first and its parents after it.
func (tl *Timeline) HardStop(h *Handle) {
	tl.stop(h, FinishHardStopped)
}

// SoftStop asks every element on h's chain to finish at its next convenient
// point. The request travels from the root down and stops at an element that
// implements SoftStopBarrier. A suspended element that implements
// SoftInterruptible and agrees is resumed at the current time.
func (tl *Timeline) SoftStop(h *Handle) {
	if !tl.owns(h) || h.status == HandleFinished {
		return
	}

	h.softRequested = true

	for id := h.root; id != 0; {
		n := tl.nodes[id]
		if n == nil {
			break
		}

		if !n.softStop {
			n.softStop = true
			n.elem.RequestSoftStop()
		}

		if blocksSoftStop(n.elem) {
			break
		}

		id = n.child
	}

	if h.status != HandleSuspended {
		return
	}

	active := tl.nodes[h.active]
	if !active.softStop {
		return
	}

	si, ok := active.elem.(SoftInterruptible)
	if !ok || !si.WakeOnSoftStop() {
		return
	}

	switch {
	case h.waitingWake:
		h.waitingWake = false
		tl.enqueue(h, tl.now, nil)
	case h.pending != nil && h.pending.when > tl.now:
		tl.nextSeq++
		tl.queue.Move(h.pending, tl.now, tl.nextSeq)
	}
}

// Wake resumes a handle whose active element returned Suspend. The value is
// passed to the element's Resume at the current time.
func (tl *Timeline) Wake(h *Handle, value any) error {
	if !tl.owns(h) || !h.waitingWake {
		return ErrNotSuspended
	}

	h.waitingWake = false
	tl.enqueue(h, tl.now, value)

	return nil
}

// Simulate runs every entry due at or before until and moves now to until.
// It always catches up and returns true.
func (tl *Timeline) Simulate(until Time) bool {
	return tl.simulate(until, 0, false)
}

// SimulateWithBudget is Simulate bounded by a real-time budget. The budget
// is checked after each entry, so at least one due entry is processed per
// call. It returns false if due entries are left when the budget runs out;
// now then stays at the time of the last processed entry.
func (tl *Timeline) SimulateWithBudget(until Time, budget time.Duration) bool {
	return tl.simulate(until, budget, true)
}

func (tl *Timeline) simulate(until Time, budget time.Duration, bounded bool) bool {
	if tl.draining {
		panic("scheduling: Simulate called while the timeline is draining")
	}

	tl.draining = true
	defer func() { tl.draining = false }()

	start := tl.wallNow()

	for {
		e := tl.queue.Peek()
		if e == nil || e.when > until {
			break
		}

		tl.queue.Pop()
		tl.advanceTo(e.when)
		tl.process(e)

		if bounded && tl.wallNow().Sub(start) >= budget {
			next := tl.queue.Peek()
			if next != nil && next.when <= until {
				return false
			}

			break
		}
	}

	tl.advanceTo(until)

	return true
}

// Teardown hard-stops every unfinished handle, queued or parked, in the
// order they were scheduled. The timeline accepts no more work afterwards.
func (tl *Timeline) Teardown() {
	tl.tornDown = true

	seqs := make([]uint64, 0, len(tl.live))
	for seq := range tl.live {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		if h, ok := tl.live[seq]; ok {
			tl.HardStop(h)
		}
	}
}

// PendingEntry describes a queued entry.
type PendingEntry struct {
	HandleID string `json:"handle_id"`
	When     Time   `json:"when"`
	Element  string `json:"element"`
	Started  bool   `json:"started"`
}

// Pending lists the queued entries in firing order.
func (tl *Timeline) Pending() []PendingEntry {
	entries := make([]*entry, len(tl.queue.entries))
	copy(entries, tl.queue.entries)
	sort.Slice(entries, func(i, j int) bool {
		return entryHeap(entries).Less(i, j)
	})

	list := make([]PendingEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, PendingEntry{
			HandleID: e.handle.id,
			When:     e.when,
			Element:  ElementName(e.handle.Active()),
			Started:  e.handle.status != HandleQueued,
		})
	}

	return list
}

// Lookup finds a live handle by ID.
func (tl *Timeline) Lookup(id string) *Handle {
	for _, h := range tl.live {
		if h.id == id {
			return h
		}
	}

	return nil
}

func (tl *Timeline) owns(h *Handle) bool {
	return h != nil && h.tl == tl
}

func (tl *Timeline) newNode(e Element, parent NodeID) *node {
	tl.nextNode++
	n := &node{
		id:     tl.nextNode,
		elem:   e,
		parent: parent,
		state:  StateCreated,
	}
	tl.nodes[n.id] = n

	return n
}

func (tl *Timeline) enqueue(h *Handle, when Time, value any) {
	tl.nextSeq++
	e := &entry{when: when, seq: tl.nextSeq, handle: h, value: value}
	h.pending = e
	tl.queue.Push(e)
}

func (tl *Timeline) advanceTo(t Time) {
	if t <= tl.now {
		return
	}

	prev := tl.now
	tl.now = t

	for _, f := range tl.onTimeAdvanced {
		f(prev, t)
	}

	if tl.NumHooks() > 0 {
		tl.InvokeHook(HookCtx{
			Domain: tl,
			Pos:    HookPosTimeAdvanced,
			Item:   t,
			Detail: prev,
		})
	}
}

func (tl *Timeline) process(e *entry) {
	h := e.handle
	h.pending = nil

	tl.InvokeHook(HookCtx{Domain: tl, Pos: HookPosBeforeEntry, Item: h})

	prevRunning := tl.running
	tl.running = h
	h.status = HandleRunning

	n := tl.nodes[h.active]
	if n == nil {
		panic(ErrResumeTornDown)
	}

	var (
		res Result
		err error
	)

	if n.state == StateCreated {
		res, err = tl.runNode(h, n)
	} else {
		res, err = tl.resumeNode(h, n, e.value)
	}

	tl.drive(h, n, res, err)

	tl.running = prevRunning

	tl.InvokeHook(HookCtx{Domain: tl, Pos: HookPosAfterEntry, Item: h})
}

func (tl *Timeline) drive(h *Handle, n *node, res Result, err error) {
	for {
		if err != nil {
			tl.fail(h, n, err)
			return
		}

		if h.stopRequested {
			tl.stopChain(h, h.stopReason, nil)
			return
		}

		switch res.Kind {
		case OutcomeDone:
			parent := tl.finishNode(h, n, StateCompleted, nil)
			if parent == nil {
				tl.finishHandle(h, Outcome{Reason: FinishCompleted, Value: res.Value})
				return
			}

			parent.child = 0
			h.active = parent.id
			n = parent
			res, err = tl.resumeNode(h, parent, res.Value)

		case OutcomeDelegate:
			child := tl.newNode(res.Child, n.id)
			n.child = child.id
			n.state = StateSuspended
			h.active = child.id
			if n.softStop && !blocksSoftStop(n.elem) {
				child.softStop = true
				child.elem.RequestSoftStop()
			}

			n = child
			res, err = tl.runNode(h, child)

		case OutcomeSuspend:
			n.state = StateSuspended
			h.status = HandleSuspended

			when := res.wakeTime(tl.now)
			if when == Never {
				h.waitingWake = true
				return
			}

			if when < tl.now {
				when = tl.now
			}
			tl.enqueue(h, when, nil)
			return

		default:
			err = errors.Errorf("unknown outcome kind %d", res.Kind)
		}
	}
}

func (tl *Timeline) runNode(h *Handle, n *node) (Result, error) {
	tl.InvokeHook(HookCtx{
		Domain: tl,
		Pos:    HookPosElementStart,
		Item:   tl.step(h, n, nil),
	})

	return tl.call(h, n, "run", func() (Result, error) {
		return n.elem.Run(tl)
	})
}

func (tl *Timeline) resumeNode(h *Handle, n *node, value any) (Result, error) {
	if n.state == StateTornDown || tl.nodes[n.id] != n {
		panic(ErrResumeTornDown)
	}

	return tl.call(h, n, "resume", func() (Result, error) {
		return n.elem.Resume(tl, value)
	})
}

func (tl *Timeline) call(
	h *Handle,
	n *node,
	phase string,
	f func() (Result, error),
) (res Result, err error) {
	n.state = StateRunning

	defer func() {
		if r := recover(); r != nil {
			err = &ElementError{
				Timeline: tl.name,
				HandleID: h.id,
				Element:  n.elem,
				Phase:    phase,
				Err:      errors.Errorf("panic: %v", r),
			}
		}
	}()

	res, err = f()
	if err != nil {
		err = &ElementError{
			Timeline: tl.name,
			HandleID: h.id,
			Element:  n.elem,
			Phase:    phase,
			Err:      errors.WithStack(err),
		}
	}

	return res, err
}

func (tl *Timeline) fail(h *Handle, n *node, err error) {
	elemErr, ok := err.(*ElementError)
	if !ok {
		elemErr = &ElementError{
			Timeline: tl.name,
			HandleID: h.id,
			Element:  n.elem,
			Phase:    "drive",
			Err:      err,
		}
	}

	tl.reporter(tl, elemErr)
	tl.stopChain(h, FinishFailed, elemErr)
}

func (tl *Timeline) stop(h *Handle, reason FinishReason) {
	if !tl.owns(h) || h.status == HandleFinished || h.stopping {
		return
	}

	if h.status == HandleRunning {
		if !h.stopRequested {
			h.stopRequested = true
			h.stopReason = reason
		}

		return
	}

	tl.stopChain(h, reason, nil)
}

// stopChain stops and tears down h's chain from the deepest element up.
// A stop requested from a teardown while the chain is going down is ignored.
func (tl *Timeline) stopChain(h *Handle, reason FinishReason, err error) {
	if h.stopping || h.status == HandleFinished {
		return
	}
	h.stopping = true

	if h.pending != nil {
		tl.queue.Remove(h.pending)
		h.pending = nil
	}
	h.waitingWake = false

	for id := h.active; id != 0; {
		n := tl.nodes[id]
		if n == nil {
			break
		}

		if n.state != StateCreated {
			n.elem.RequestHardStop()
		}

		var nodeErr error
		if id == h.active {
			nodeErr = err
		}

		id = n.parent
		tl.finishNode(h, n, StateHardStopped, nodeErr)
	}

	tl.finishHandle(h, Outcome{Reason: reason, Err: err})
}

// finishNode tears n down and removes it from the arena. It returns the
// parent node, if any.
func (tl *Timeline) finishNode(h *Handle, n *node, state State, err error) *node {
	n.state = state

	tl.InvokeHook(HookCtx{
		Domain: tl,
		Pos:    HookPosElementEnd,
		Item:   tl.step(h, n, err),
	})

	n.elem.Teardown()
	n.state = StateTornDown
	delete(tl.nodes, n.id)

	if n.parent == 0 {
		return nil
	}

	return tl.nodes[n.parent]
}

func (tl *Timeline) finishHandle(h *Handle, outcome Outcome) {
	h.status = HandleFinished
	h.outcome = outcome
	h.active = 0
	h.stopRequested = false
	h.stopping = false
	delete(tl.live, h.seq)

	callbacks := h.onFinish
	h.onFinish = nil
	for _, f := range callbacks {
		f(outcome)
	}
}

func (tl *Timeline) step(h *Handle, n *node, err error) ElementStep {
	return ElementStep{
		Handle:  h,
		NodeID:  n.id,
		Parent:  n.parent,
		Element: n.elem,
		State:   n.state,
		Err:     err,
	}
}

func logException(tl *Timeline, err *ElementError) {
	tl.logger.Error("element failed",
		zap.String("timeline", tl.name),
		zap.String("handle", err.HandleID),
		zap.String("element", ElementName(err.Element)),
		zap.String("phase", err.Phase),
		zap.String("stack", stackOf(err)),
		zap.Error(err),
	)
}
