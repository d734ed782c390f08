package main

import (
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/simlane/timeline/alarms"
	"github.com/simlane/timeline/elements"
	"github.com/simlane/timeline/monitoring"
	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/simulation"
	"github.com/simlane/timeline/tracing"
)

// deliveryKind is the element type wrapping each delivery.
const deliveryKind = "*elements.WithFinally"

// workloadParams shapes the demo. Spans are in milliseconds.
type workloadParams struct {
	Agents      int
	Rounds      int
	Stagger     scheduling.TimeSpan
	Patrol      scheduling.TimeSpan
	Delivery    scheduling.TimeSpan
	ShiftLength scheduling.TimeSpan
	Heartbeat   scheduling.TimeSpan
}

func defaultWorkloadParams() workloadParams {
	return workloadParams{
		Agents:      4,
		Rounds:      0,
		Stagger:     100,
		Patrol:      500,
		Delivery:    300,
		ShiftLength: 8000,
		Heartbeat:   1000,
	}
}

// workload is a group of agents. Each agent patrols, then delivers inside a
// critical section, round after round. When the shift ends every agent is
// soft-stopped, so that deliveries in flight complete first.
type workload struct {
	params workloadParams
	logger *zap.Logger

	owner     *scheduling.Owner
	agents    []*scheduling.Handle
	shiftEnd  *alarms.Alarm
	heartbeat *alarms.Alarm

	deliveryTime *tracing.AverageTimeTracer

	patrols    atomic.Uint64
	deliveries atomic.Uint64
	beats      atomic.Uint64
}

func installWorkload(
	s *simulation.Simulation,
	params workloadParams,
	logger *zap.Logger,
) (*workload, error) {
	if params.Agents <= 0 {
		return nil, errors.Errorf("need at least one agent, got %d", params.Agents)
	}

	w := &workload{
		params: params,
		logger: logger,
		owner:  scheduling.NewOwner("agents"),

		deliveryTime: tracing.NewAverageTimeTracer(
			tracing.KindIs(deliveryKind)),
	}
	s.RegisterOwner(w.owner)
	tracing.CollectTrace(s.Service().Sim(), w.deliveryTime)

	var bar *monitoring.ProgressBar
	if m := s.GetMonitor(); m != nil {
		bar = m.CreateProgressBar("agents", uint64(params.Agents))
	}

	svc := s.Service()
	sim := svc.Sim()

	for i := 0; i < params.Agents; i++ {
		at := sim.Now().Add(scheduling.TimeSpan(i) * params.Stagger)

		h, err := w.owner.Schedule(sim, w.agent(i), at)
		if err != nil {
			return nil, err
		}

		if bar != nil {
			bar.Track(h)
		}

		w.agents = append(w.agents, h)
	}

	var err error
	w.shiftEnd, err = svc.SimAlarms().AddAlarm(w, params.ShiftLength,
		func(*alarms.Alarm) { w.endShift() })
	if err != nil {
		return nil, err
	}

	w.heartbeat, err = svc.WallAlarms().AddAlarm(w, params.Heartbeat,
		func(*alarms.Alarm) { w.beat(s) },
		alarms.Repeating())
	if err != nil {
		return nil, err
	}

	return w, nil
}

func (w *workload) agent(i int) scheduling.Element {
	name := "agent-" + strconv.Itoa(i)

	return elements.NewRepeat(w.params.Rounds, func(round int) scheduling.Element {
		return elements.NewSequence(
			elements.Do(name+".patrol", func(*scheduling.Timeline) {
				w.patrols.Add(1)
			}),
			elements.NewSoftSleep(w.params.Patrol),
			elements.BuildCriticalSectionWithFinally(
				func() { w.deliveries.Add(1) },
				elements.Do(name+".load", func(tl *scheduling.Timeline) {
					w.logger.Debug("delivery started",
						zap.String("agent", name),
						zap.Int("round", round),
						zap.Int64("sim_now", int64(tl.Now())))
				}),
				elements.NewSleep(w.params.Delivery),
			),
		)
	})
}

func (w *workload) endShift() {
	w.logger.Info("shift over, stopping agents",
		zap.Int("agents", w.owner.Len()))

	for _, h := range w.owner.Handles() {
		h.Timeline().SoftStop(h)
	}
}

func (w *workload) beat(s *simulation.Simulation) {
	w.beats.Add(1)

	sim := s.Service().Sim()
	w.logger.Info("heartbeat",
		zap.Int64("sim_now", int64(sim.Now())),
		zap.Int("agents_live", w.owner.Len()),
		zap.Uint64("patrols", w.patrols.Load()),
		zap.Uint64("deliveries", w.deliveries.Load()),
		zap.Bool("paused", s.Service().Paused()))

	if w.owner.Len() == 0 {
		w.heartbeat.Cancel()
	}
}

// Done tells if every agent has finished.
func (w *workload) Done() bool {
	for _, h := range w.agents {
		if !h.Done() {
			return false
		}
	}

	return true
}
