package alarms

import (
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/simlane/timeline/scheduling"
)

// A Manager owns the alarms of one timeline.
type Manager struct {
	tl      *scheduling.Timeline
	logger  *zap.Logger
	alarms  map[*Alarm]struct{}
	nextSeq uint64
}

// NewManager creates a Manager that schedules on tl.
func NewManager(tl *scheduling.Timeline) *Manager {
	return &Manager{
		tl:     tl,
		logger: tl.Logger(),
		alarms: make(map[*Alarm]struct{}),
	}
}

// Timeline returns the timeline the alarms fire on.
func (m *Manager) Timeline() *scheduling.Timeline {
	return m.tl
}

// AddAlarm schedules callback to run delay ticks from the timeline's current
// time. Owners must be comparable; they group alarms for CancelAlarmsFor.
func (m *Manager) AddAlarm(
	owner any,
	delay scheduling.TimeSpan,
	callback Callback,
	opts ...Option,
) (*Alarm, error) {
	if callback == nil {
		return nil, errors.New("alarms: callback is nil")
	}

	if delay < 0 {
		return nil, errors.Errorf("alarms: negative delay %s", delay)
	}

	m.nextSeq++
	a := &Alarm{
		mgr:      m,
		seq:      m.nextSeq,
		owner:    owner,
		callback: callback,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.repeating && a.interval == 0 {
		a.interval = delay
	}

	if a.repeating && a.interval <= 0 {
		return nil, errors.Errorf(
			"alarms: repeating alarm needs a positive interval, got %s",
			a.interval)
	}

	if err := m.arm(a, m.tl.Now().Add(delay)); err != nil {
		return nil, err
	}

	m.alarms[a] = struct{}{}

	return a, nil
}

// CancelAlarm stops an alarm. Canceling an alarm that already fired, or was
// already canceled, does nothing.
func (m *Manager) CancelAlarm(a *Alarm) {
	if a == nil || a.mgr != m || a.canceled {
		return
	}

	a.canceled = true
	if a.current != nil {
		m.tl.Cancel(a.current)
	}

	m.forget(a)
}

// CancelAlarmsFor cancels every alarm of owner and returns how many there
// were.
func (m *Manager) CancelAlarmsFor(owner any) int {
	n := 0
	for _, a := range m.Alarms() {
		if a.owner == owner {
			m.CancelAlarm(a)
			n++
		}
	}

	if n > 0 {
		m.logger.Debug("alarms canceled for owner",
			zap.String("timeline", m.tl.Name()),
			zap.Any("owner", owner),
			zap.Int("count", n))
	}

	return n
}

// Alarms lists the active alarms, soonest first.
func (m *Manager) Alarms() []*Alarm {
	list := make([]*Alarm, 0, len(m.alarms))
	for a := range m.alarms {
		list = append(list, a)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].nextFire != list[j].nextFire {
			return list[i].nextFire < list[j].nextFire
		}

		return list[i].seq < list[j].seq
	})

	return list
}

// Len returns the number of active alarms.
func (m *Manager) Len() int {
	return len(m.alarms)
}

func (m *Manager) arm(a *Alarm, at scheduling.Time) error {
	h, err := m.tl.Schedule(&firing{alarm: a, at: at}, at)
	if err != nil {
		return errors.Wrap(err, "alarms: cannot arm alarm")
	}

	a.current = h
	a.nextFire = at

	return nil
}

func (m *Manager) forget(a *Alarm) {
	delete(m.alarms, a)
}
