package scheduling

// HookPos names a point in the timeline's life where hooks are invoked.
type HookPos struct {
	Name string
}

// Hook positions raised by a Timeline.
var (
	// HookPosBeforeEntry fires after an entry is popped, before its element
	// runs. Item is a *Handle.
	HookPosBeforeEntry = &HookPos{Name: "BeforeEntry"}

	// HookPosAfterEntry fires after the entry has been processed. Item is a
	// *Handle.
	HookPosAfterEntry = &HookPos{Name: "AfterEntry"}

	// HookPosElementStart fires when an element starts. Item is an
	// ElementStep.
	HookPosElementStart = &HookPos{Name: "ElementStart"}

	// HookPosElementEnd fires when an element completes, is stopped, or
	// fails. Item is an ElementStep.
	HookPosElementEnd = &HookPos{Name: "ElementEnd"}

	// HookPosTimeAdvanced fires when now moves forward. Item is the new
	// Time, Detail the previous one.
	HookPosTimeAdvanced = &HookPos{Name: "TimeAdvanced"}
)

// ElementStep describes one element on a handle's chain.
type ElementStep struct {
	Handle  *Handle
	NodeID  NodeID
	Parent  NodeID
	Element Element
	State   State
	Err     error
}

// HookCtx carries the site information of a hook invocation.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable is anything hooks can be attached to.
type Hookable interface {
	AcceptHook(hook Hook)
	NumHooks() int
	Hooks() []Hook
	InvokeHook(ctx HookCtx)
}

// Hook is invoked by a Hookable at its hook positions.
type Hook interface {
	Func(ctx HookCtx)
}

type funcHook struct {
	f func(ctx HookCtx)
}

func (h *funcHook) Func(ctx HookCtx) {
	h.f(ctx)
}

// NewHookFunc wraps f into a Hook.
func NewHookFunc(f func(ctx HookCtx)) Hook {
	return &funcHook{f: f}
}

// HookableBase implements Hookable. Hooks are expected to be attached while
// setting things up, before the timeline is driven.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates an empty HookableBase.
func NewHookableBase() *HookableBase {
	return &HookableBase{hookList: make([]Hook, 0)}
}

// AcceptHook attaches a hook. Attaching the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	for _, existing := range h.hookList {
		if existing == hook {
			panic("scheduling: duplicated hook")
		}
	}

	h.hookList = append(h.hookList, hook)
}

// NumHooks returns the number of attached hooks.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns the attached hooks.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// InvokeHook calls every attached hook.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)
