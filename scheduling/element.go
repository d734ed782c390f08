package scheduling

// An Element is a unit of cooperatively scheduled work.
//
// The Timeline calls Run once, when the element starts. If Run delegates to a
// child, or suspends, the Timeline later calls Resume with the child's result
// (or with the value passed to Wake, or nil after a timed suspension). Every
// element is torn down exactly once by the Timeline when it completes, fails,
// or is hard-stopped.
type Element interface {
	// Run starts the element.
	Run(tl *Timeline) (Result, error)

	// Resume continues a suspended element.
	Resume(tl *Timeline, value any) (Result, error)

	// RequestSoftStop asks the element to finish at its next convenient
	// point. It may be called multiple times.
	RequestSoftStop()

	// RequestHardStop tells the element it will not be resumed again. The
	// Timeline has already stopped the element's active child when this is
	// called.
	RequestHardStop()

	// Teardown releases anything the element holds. Must be idempotent.
	Teardown()
}

// OutcomeKind tags what an element asked the Timeline to do next.
type OutcomeKind int

// Possible outcomes of Run and Resume.
const (
	// OutcomeDone means the element finished and produced a value.
	OutcomeDone OutcomeKind = iota

	// OutcomeDelegate means the element is blocked on a child element.
	OutcomeDelegate

	// OutcomeSuspend means the element waits for a time or for Wake.
	OutcomeSuspend
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDone:
		return "done"
	case OutcomeDelegate:
		return "delegate"
	case OutcomeSuspend:
		return "suspend"
	default:
		return "unknown"
	}
}

// Result is the continuation an element hands back to the Timeline.
type Result struct {
	Kind  OutcomeKind
	Value any
	Child Element

	wakeAt  Time
	wakeIn  TimeSpan
	relWake bool
}

// Done completes the element with the given value.
func Done(value any) Result {
	return Result{Kind: OutcomeDone, Value: value}
}

// Delegate blocks the element on child. The element is resumed with the
// child's result once the child completes.
func Delegate(child Element) Result {
	if child == nil {
		panic("scheduling: cannot delegate to a nil child")
	}

	return Result{Kind: OutcomeDelegate, Child: child}
}

// SuspendUntil parks the element until the timeline reaches t.
func SuspendUntil(t Time) Result {
	return Result{Kind: OutcomeSuspend, wakeAt: t}
}

// SuspendFor parks the element for d ticks from the current time.
func SuspendFor(d TimeSpan) Result {
	return Result{Kind: OutcomeSuspend, wakeIn: d, relWake: true}
}

// Suspend parks the element until someone calls Timeline.Wake on its handle.
func Suspend() Result {
	return Result{Kind: OutcomeSuspend, wakeAt: Never}
}

func (r Result) wakeTime(now Time) Time {
	if r.relWake {
		if r.wakeIn < 0 {
			return now
		}

		return now.Add(r.wakeIn)
	}

	return r.wakeAt
}

// SoftInterruptible is implemented by elements that want to be resumed early,
// at the current time, when a soft stop arrives while they are suspended.
type SoftInterruptible interface {
	WakeOnSoftStop() bool
}

// SoftStopBarrier is implemented by elements that keep soft stops from
// reaching their children.
type SoftStopBarrier interface {
	BlocksSoftStop() bool
}

func blocksSoftStop(e Element) bool {
	b, ok := e.(SoftStopBarrier)
	return ok && b.BlocksSoftStop()
}

// ElementBase carries the bookkeeping most elements need. Embed it and
// implement Run and Resume.
type ElementBase struct {
	softStop      bool
	hardStop      bool
	tornDown      bool
	registrations []*Registration
	finalizers    []func()
}

// RequestSoftStop records the request.
func (b *ElementBase) RequestSoftStop() {
	b.softStop = true
}

// RequestHardStop records the request.
func (b *ElementBase) RequestHardStop() {
	b.hardStop = true
}

// SoftStopRequested tells if a soft stop has been requested.
func (b *ElementBase) SoftStopRequested() bool {
	return b.softStop
}

// HardStopRequested tells if a hard stop has been requested.
func (b *ElementBase) HardStopRequested() bool {
	return b.hardStop
}

// TornDown tells if Teardown has already run.
func (b *ElementBase) TornDown() bool {
	return b.tornDown
}

// Hold makes the element responsible for releasing r on teardown.
func (b *ElementBase) Hold(r *Registration) {
	if b.tornDown {
		r.Release()
		return
	}

	b.registrations = append(b.registrations, r)
}

// OnTeardown registers f to run once when the element is torn down.
func (b *ElementBase) OnTeardown(f func()) {
	b.finalizers = append(b.finalizers, f)
}

// Teardown releases the held registrations and runs the teardown callbacks.
// Only the first call has any effect.
func (b *ElementBase) Teardown() {
	if b.tornDown {
		return
	}

	b.tornDown = true

	for _, r := range b.registrations {
		if !r.Released() {
			r.Release()
		}
	}
	b.registrations = nil

	for _, f := range b.finalizers {
		f()
	}
	b.finalizers = nil
}

// Registration is a claim on some owner that must be released exactly once.
type Registration struct {
	release  func()
	released bool
}

// NewRegistration creates a registration that calls release when released.
func NewRegistration(release func()) *Registration {
	return &Registration{release: release}
}

// Release gives the claim back. Releasing twice is a programming error.
func (r *Registration) Release() {
	if r.released {
		panic(ErrDoubleRelease)
	}

	r.released = true
	if r.release != nil {
		r.release()
	}
}

// Released tells if the registration has been released.
func (r *Registration) Released() bool {
	return r.released
}
