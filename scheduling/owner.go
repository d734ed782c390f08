package scheduling

// An Owner holds the handles scheduled on its behalf. Resetting the owner
// hard-stops everything it still holds.
type Owner struct {
	name    string
	handles map[*Handle]*Registration
	order   []*Handle
}

// NewOwner creates an owner with the given name.
func NewOwner(name string) *Owner {
	return &Owner{
		name:    name,
		handles: make(map[*Handle]*Registration),
	}
}

// Name returns the owner's name.
func (o *Owner) Name() string {
	return o.name
}

// Schedule schedules e on tl at time at and tracks the resulting handle until
// it finishes.
func (o *Owner) Schedule(tl *Timeline, e Element, at Time) (*Handle, error) {
	h, err := tl.Schedule(e, at)
	if err != nil {
		return nil, err
	}

	o.track(h)

	return h, nil
}

func (o *Owner) track(h *Handle) {
	reg := NewRegistration(func() {
		delete(o.handles, h)
		o.removeFromOrder(h)
	})
	o.handles[h] = reg
	o.order = append(o.order, h)

	h.OnFinish(func(Outcome) {
		if !reg.Released() {
			reg.Release()
		}
	})
}

func (o *Owner) removeFromOrder(h *Handle) {
	for i, x := range o.order {
		if x == h {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

// Handles returns the unfinished handles, oldest first.
func (o *Owner) Handles() []*Handle {
	list := make([]*Handle, len(o.order))
	copy(list, o.order)

	return list
}

// Len returns the number of unfinished handles.
func (o *Owner) Len() int {
	return len(o.order)
}

// Reset hard-stops every handle the owner still holds.
func (o *Owner) Reset() {
	for _, h := range o.Handles() {
		h.Timeline().HardStop(h)
	}
}
