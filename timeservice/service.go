// Package timeservice drives a simulation timeline and a wall timeline once
// per outer tick.
package timeservice

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/simlane/timeline/alarms"
	"github.com/simlane/timeline/clock"
	"github.com/simlane/timeline/scheduling"
)

// Names of the two timelines.
const (
	SimTimelineName  = "sim"
	WallTimelineName = "wall"
)

// Pauser is implemented by clocks that can be paused.
type Pauser interface {
	Pause()
	Continue()
}

// Updater is implemented by clocks that move only when updated.
type Updater interface {
	Update() scheduling.Time
}

// UpdateReport describes the outcome of one Update.
type UpdateReport struct {
	Tick        uint64          `json:"tick"`
	SimTarget   scheduling.Time `json:"sim_target"`
	SimNow      scheduling.Time `json:"sim_now"`
	WallNow     scheduling.Time `json:"wall_now"`
	SimCaughtUp bool            `json:"sim_caught_up"`
	SimPending  int             `json:"sim_pending"`
	WallPending int             `json:"wall_pending"`
	Paused      bool            `json:"paused"`
	Duration    time.Duration   `json:"duration"`
}

// Behind returns how far the simulation timeline is behind its clock.
func (r UpdateReport) Behind() scheduling.TimeSpan {
	if r.SimNow >= r.SimTarget {
		return 0
	}

	return r.SimTarget.Sub(r.SimNow)
}

// ExceptionListener is told about every element failure, tagged with the
// timeline it happened on.
type ExceptionListener func(timeline string, err *scheduling.ElementError)

// Service owns the simulation and wall timelines.
//
// Update, Start and Stop are meant to be called from one goroutine. Pause,
// Continue, SetMaxTimeSlice and Inspect may be called from any goroutine.
type Service struct {
	mu sync.Mutex

	simClock    clock.Clock
	wallClock   clock.Clock
	logger      *zap.Logger
	idGenerator scheduling.IDGenerator
	stopwatch   func() time.Time
	hooks       []scheduling.Hook

	sim        *scheduling.Timeline
	wall       *scheduling.Timeline
	simAlarms  *alarms.Manager
	wallAlarms *alarms.Manager
	caches     *CacheRegistry

	maxTimeSlice atomic.Int64
	paused       atomic.Bool
	started      bool
	stopped      bool
	ticks        atomic.Uint64
	exceptions   atomic.Uint64

	exceptionListeners []ExceptionListener
	updateListeners    []func(UpdateReport)
}

// Start creates both timelines at their clocks' current times and connects
// the cache registry to the simulation timeline.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("timeservice: already started")
	}

	s.sim = s.newTimeline(SimTimelineName, s.simClock)
	s.sim.SetWallClock(s.stopwatch)
	s.sim.AddTimeAdvancedCallback(func(_, _ scheduling.Time) {
		s.caches.ClearAll()
	})

	s.wall = s.newTimeline(WallTimelineName, s.wallClock)

	s.simAlarms = alarms.NewManager(s.sim)
	s.wallAlarms = alarms.NewManager(s.wall)

	s.started = true
	s.logger.Info("time service started",
		zap.Int64("sim_now", int64(s.sim.Now())),
		zap.Int64("wall_now", int64(s.wall.Now())),
		zap.Duration("max_time_slice", s.MaxTimeSlice()))

	return nil
}

func (s *Service) newTimeline(name string, c clock.Clock) *scheduling.Timeline {
	tl := scheduling.NewTimeline(name, c.Now())
	tl.SetLogger(s.logger)
	tl.SetIDGenerator(s.idGenerator)
	tl.SetExceptionReporter(s.onException)

	for _, h := range s.hooks {
		tl.AcceptHook(h)
	}

	return tl
}

// Update advances the simulation timeline to the simulation clock, within
// the time-slice budget if timeSlice is set, and then the wall timeline to
// the wall clock without a budget. Falling behind is logged, not returned.
func (s *Service) Update(timeSlice bool) UpdateReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mustBeRunning()

	began := s.stopwatch()
	report := UpdateReport{
		Tick:        s.ticks.Add(1),
		SimCaughtUp: true,
		Paused:      s.paused.Load(),
	}

	if u, ok := s.wallClock.(Updater); ok {
		u.Update()
	}

	if !report.Paused {
		if u, ok := s.simClock.(Updater); ok {
			u.Update()
		}

		report.SimTarget = s.simClock.Now()
		report.SimCaughtUp = s.simulateSim(report.SimTarget, timeSlice)
	} else {
		report.SimTarget = s.sim.Now()
	}

	s.wall.Simulate(s.wallClock.Now())

	report.SimNow = s.sim.Now()
	report.WallNow = s.wall.Now()
	report.SimPending = s.sim.Len()
	report.WallPending = s.wall.Len()
	report.Duration = s.stopwatch().Sub(began)

	if !report.SimCaughtUp {
		s.logger.Warn("sim timeline did not catch up within the time slice",
			zap.Uint64("tick", report.Tick),
			zap.Int64("sim_now", int64(report.SimNow)),
			zap.Int64("sim_target", int64(report.SimTarget)),
			zap.Int64("behind", int64(report.Behind())),
			zap.Int("pending", report.SimPending))
	}

	for _, l := range s.updateListeners {
		l(report)
	}

	return report
}

func (s *Service) simulateSim(target scheduling.Time, timeSlice bool) bool {
	budget := s.MaxTimeSlice()
	if !timeSlice || budget <= 0 {
		return s.sim.Simulate(target)
	}

	return s.sim.SimulateWithBudget(target, budget)
}

// Stop tears down both timelines.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return
	}

	s.stopped = true
	s.sim.Teardown()
	s.wall.Teardown()

	s.logger.Info("time service stopped",
		zap.Uint64("ticks", s.ticks.Load()),
		zap.Uint64("exceptions", s.exceptions.Load()))
}

func (s *Service) mustBeRunning() {
	if !s.started {
		panic("timeservice: service not started")
	}

	if s.stopped {
		panic("timeservice: service stopped")
	}
}

// SetMaxTimeSlice sets the real-time budget of the simulation timeline per
// update. Zero or less disables slicing.
func (s *Service) SetMaxTimeSlice(d time.Duration) {
	if d < 0 {
		d = 0
	}

	s.maxTimeSlice.Store(int64(d))
}

// MaxTimeSlice returns the current budget. Zero means no slicing.
func (s *Service) MaxTimeSlice() time.Duration {
	return time.Duration(s.maxTimeSlice.Load())
}

// Pause stops the simulation timeline from advancing. The wall timeline
// keeps running.
func (s *Service) Pause() {
	if s.paused.Swap(true) {
		return
	}

	if p, ok := s.simClock.(Pauser); ok {
		p.Pause()
	}

	s.logger.Info("simulation paused")
}

// Continue undoes Pause.
func (s *Service) Continue() {
	if !s.paused.Swap(false) {
		return
	}

	if p, ok := s.simClock.(Pauser); ok {
		p.Continue()
	}

	s.logger.Info("simulation continued")
}

// Paused tells if the simulation is paused.
func (s *Service) Paused() bool {
	return s.paused.Load()
}

// Inspect calls f with both timelines while no update is running.
func (s *Service) Inspect(f func(sim, wall *scheduling.Timeline)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f(s.sim, s.wall)
}

// AddExceptionListener registers l to be told about element failures.
func (s *Service) AddExceptionListener(l ExceptionListener) {
	s.exceptionListeners = append(s.exceptionListeners, l)
}

// AddUpdateListener registers l to receive every update report.
func (s *Service) AddUpdateListener(l func(UpdateReport)) {
	s.updateListeners = append(s.updateListeners, l)
}

// Exceptions returns how many element failures have been reported.
func (s *Service) Exceptions() uint64 {
	return s.exceptions.Load()
}

func (s *Service) onException(
	tl *scheduling.Timeline,
	err *scheduling.ElementError,
) {
	s.exceptions.Add(1)

	s.logger.Error("exception in scheduled element",
		zap.String("timeline", tl.Name()),
		zap.Int64("now", int64(tl.Now())),
		zap.String("handle", err.HandleID),
		zap.String("element", scheduling.ElementName(err.Element)),
		zap.String("phase", err.Phase),
		zap.String("callstack", fmt.Sprintf("%+v", err.Err)),
		zap.Error(err))

	for _, l := range s.exceptionListeners {
		l(tl.Name(), err)
	}
}

// Sim returns the simulation timeline.
func (s *Service) Sim() *scheduling.Timeline {
	return s.sim
}

// Wall returns the wall timeline.
func (s *Service) Wall() *scheduling.Timeline {
	return s.wall
}

// SimAlarms returns the alarm manager of the simulation timeline.
func (s *Service) SimAlarms() *alarms.Manager {
	return s.simAlarms
}

// WallAlarms returns the alarm manager of the wall timeline.
func (s *Service) WallAlarms() *alarms.Manager {
	return s.wallAlarms
}

// Caches returns the registry of caches cleared on every simulation time
// advance.
func (s *Service) Caches() *CacheRegistry {
	return s.caches
}

// SimClock returns the clock the simulation timeline follows.
func (s *Service) SimClock() clock.Clock {
	return s.simClock
}

// WallClock returns the clock the wall timeline follows.
func (s *Service) WallClock() clock.Clock {
	return s.wallClock
}

// Ticks returns how many updates have run.
func (s *Service) Ticks() uint64 {
	return s.ticks.Load()
}

// Logger returns the service's logger.
func (s *Service) Logger() *zap.Logger {
	return s.logger
}
