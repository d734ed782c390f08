// Package simulation puts a time service together with its optional
// monitoring server and trace recorder, and drives it from a ticker.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simlane/timeline/datarecording"
	"github.com/simlane/timeline/monitoring"
	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/timeservice"
	"github.com/simlane/timeline/tracing"
)

// ExceptionTableName is the table element failures are recorded into.
const ExceptionTableName = "exceptions"

type exceptionEntry struct {
	Timeline string
	HandleID string
	Element  string
	Phase    string
	Message  string
	Stack    string
}

// A Simulation owns the running time service and everything attached to it.
type Simulation struct {
	id           string
	logger       *zap.Logger
	tickInterval time.Duration

	service      *timeservice.Service
	dataRecorder datarecording.DataRecorder
	monitor      *monitoring.Monitor
	monitorURL   string
	visTracer    *tracing.DBTracer
	counter      *tracing.CountTracer

	ownersLock     sync.Mutex
	owners         []*scheduling.Owner
	ownerNameIndex map[string]int

	terminateOnce sync.Once
}

// ID returns the simulation's ID.
func (s *Simulation) ID() string {
	return s.id
}

// Service returns the time service.
func (s *Simulation) Service() *timeservice.Service {
	return s.service
}

// GetDataRecorder returns the data recorder, or nil if recording is off.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor, or nil if monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns where the monitor is served.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// GetVisTracer returns the tracer writing to the data recorder, or nil if
// recording is off.
func (s *Simulation) GetVisTracer() *tracing.DBTracer {
	return s.visTracer
}

// Counter returns the tracer counting element runs on the sim timeline.
func (s *Simulation) Counter() *tracing.CountTracer {
	return s.counter
}

// RegisterOwner registers an owner so that it is reset when the simulation
// terminates.
func (s *Simulation) RegisterOwner(o *scheduling.Owner) {
	s.ownersLock.Lock()
	defer s.ownersLock.Unlock()

	if _, found := s.ownerNameIndex[o.Name()]; found {
		panic("owner " + o.Name() + " already registered")
	}

	s.owners = append(s.owners, o)
	s.ownerNameIndex[o.Name()] = len(s.owners) - 1
}

// GetOwnerByName returns the owner with the given name, or nil.
func (s *Simulation) GetOwnerByName(name string) *scheduling.Owner {
	s.ownersLock.Lock()
	defer s.ownersLock.Unlock()

	i, found := s.ownerNameIndex[name]
	if !found {
		return nil
	}

	return s.owners[i]
}

// Owners returns all registered owners in registration order.
func (s *Simulation) Owners() []*scheduling.Owner {
	s.ownersLock.Lock()
	defer s.ownersLock.Unlock()

	owners := make([]*scheduling.Owner, len(s.owners))
	copy(owners, s.owners)

	return owners
}

// Tick runs one time-sliced update.
func (s *Simulation) Tick() timeservice.UpdateReport {
	return s.service.Update(true)
}

// Run ticks the service every tick interval until ctx is done.
func (s *Simulation) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.logger.Info("simulation running",
		zap.String("id", s.id),
		zap.Duration("tick_interval", s.tickInterval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Simulation) recordException(timeline string, err *scheduling.ElementError) {
	if s.dataRecorder == nil {
		return
	}

	s.dataRecorder.InsertData(ExceptionTableName, exceptionEntry{
		Timeline: timeline,
		HandleID: err.HandleID,
		Element:  scheduling.ElementName(err.Element),
		Phase:    err.Phase,
		Message:  err.Err.Error(),
		Stack:    fmt.Sprintf("%+v", err.Err),
	})
}

// Terminate stops every owner, the service, the monitor and the recorder.
// Calling it more than once does nothing.
func (s *Simulation) Terminate() {
	s.terminateOnce.Do(func() {
		for _, o := range s.Owners() {
			s.service.Inspect(func(_, _ *scheduling.Timeline) {
				o.Reset()
			})
		}

		s.service.Stop()

		if s.monitor != nil {
			if err := s.monitor.StopServer(); err != nil {
				s.logger.Warn("cannot stop monitor", zap.Error(err))
			}
		}

		if s.visTracer != nil {
			s.visTracer.Terminate()
		}

		if s.dataRecorder != nil {
			if err := s.dataRecorder.Close(); err != nil {
				s.logger.Warn("cannot close data recorder", zap.Error(err))
			}
		}
	})
}
