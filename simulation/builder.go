package simulation

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/simlane/timeline/clock"
	"github.com/simlane/timeline/config"
	"github.com/simlane/timeline/datarecording"
	"github.com/simlane/timeline/logging"
	"github.com/simlane/timeline/monitoring"
	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/timeservice"
	"github.com/simlane/timeline/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	parallelIDs    bool
	monitorOn      bool
	monitorPort    int
	recordOn       bool
	outputFileName string
	maxTimeSlice   time.Duration
	tickInterval   time.Duration
	speed          clock.Speed
	simClock       clock.Clock
	wallClock      clock.Clock
	logger         *zap.Logger
	logElements    bool
}

// MakeBuilder creates a new builder with the default configuration.
func MakeBuilder() Builder {
	cfg := config.Default()

	return Builder{
		monitorOn:    false,
		maxTimeSlice: cfg.MaxTimeSlice,
		tickInterval: cfg.TickInterval,
		speed:        clock.SpeedNormal,
	}
}

// WithConfig copies every setting of cfg into the builder.
func (b Builder) WithConfig(cfg *config.Config) (Builder, error) {
	speed, err := clock.ParseSpeed(cfg.SimSpeed)
	if err != nil {
		return b, err
	}

	b.parallelIDs = cfg.ParallelIDs
	b.monitorOn = cfg.MonitorOn
	b.monitorPort = cfg.MonitorPort
	b.recordOn = cfg.RecordOn
	b.outputFileName = cfg.RecordPath
	b.maxTimeSlice = cfg.MaxTimeSlice
	b.tickInterval = cfg.TickInterval
	b.speed = speed

	return b, nil
}

// WithParallelIDs makes handle IDs globally unique instead of sequential.
func (b Builder) WithParallelIDs() Builder {
	b.parallelIDs = true
	return b
}

// WithMonitoring turns on the monitoring server.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithoutMonitoring turns off the monitoring server.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithRecording turns on tracing into a SQLite file.
func (b Builder) WithRecording() Builder {
	b.recordOn = true
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithMaxTimeSlice sets the per-tick budget of the simulation timeline.
func (b Builder) WithMaxTimeSlice(d time.Duration) Builder {
	b.maxTimeSlice = d
	return b
}

// WithTickInterval sets how often Run updates the time service.
func (b Builder) WithTickInterval(d time.Duration) Builder {
	b.tickInterval = d
	return b
}

// WithSpeed sets the initial speed of the default game clock.
func (b Builder) WithSpeed(s clock.Speed) Builder {
	b.speed = s
	return b
}

// WithSimClock replaces the default game clock.
func (b Builder) WithSimClock(c clock.Clock) Builder {
	b.simClock = c
	return b
}

// WithWallClock replaces the default wall clock.
func (b Builder) WithWallClock(c clock.Clock) Builder {
	b.wallClock = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithElementLogging logs every element start and end at debug level.
func (b Builder) WithElementLogging() Builder {
	b.logElements = true
	return b
}

func (b Builder) parametersMustBeValid() error {
	if !b.monitorOn && b.monitorPort != 0 {
		return errors.New("monitor port cannot be set when monitoring is disabled")
	}

	if b.tickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}

	return nil
}

// Build builds and starts the simulation.
func (b Builder) Build() (*Simulation, error) {
	if err := b.parametersMustBeValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.L()
	}

	s := &Simulation{
		id:             xid.New().String(),
		logger:         logger,
		tickInterval:   b.tickInterval,
		ownerNameIndex: make(map[string]int),
		counter:        tracing.NewCountTracer(tracing.AllTasks),
	}

	s.service = b.buildService(logger)
	if err := s.service.Start(); err != nil {
		return nil, err
	}

	s.service.AddExceptionListener(s.recordException)
	tracing.CollectTrace(s.service.Sim(), s.counter)

	if b.recordOn {
		b.attachRecorder(s)
	}

	if b.monitorOn {
		if err := b.attachMonitor(s); err != nil {
			s.Terminate()
			return nil, err
		}
	}

	return s, nil
}

func (b Builder) buildService(logger *zap.Logger) *timeservice.Service {
	simClock := b.simClock
	if simClock == nil {
		gc := clock.NewGameClock(0, logger)
		gc.SetSpeed(b.speed)
		simClock = gc
	}

	tsBuilder := timeservice.MakeBuilder().
		WithSimClock(simClock).
		WithLogger(logger).
		WithMaxTimeSlice(b.maxTimeSlice)

	if b.wallClock != nil {
		tsBuilder = tsBuilder.WithWallClock(b.wallClock)
	}

	if b.logElements {
		tsBuilder = tsBuilder.WithHook(
			scheduling.NewElementLogger(logging.Named(logger, "elements")))
	}

	if b.parallelIDs {
		tsBuilder = tsBuilder.WithIDGenerator(scheduling.NewParallelIDGenerator())
	}

	return tsBuilder.Build()
}

func (b Builder) attachRecorder(s *Simulation) {
	outputPath := b.outputFileName
	if outputPath == "" {
		outputPath = "timeline_sim_" + s.id
	}

	s.dataRecorder = datarecording.NewDataRecorder(outputPath)
	s.dataRecorder.CreateTable(ExceptionTableName, exceptionEntry{})
	datarecording.RecordProperty(s.dataRecorder, "Simulation ID", s.id)

	s.visTracer = tracing.NewDBTracer(s.dataRecorder)
	tracing.CollectTrace(s.service.Sim(), s.visTracer)
}

func (b Builder) attachMonitor(s *Simulation) error {
	s.monitor = monitoring.NewMonitor(s.service)
	if b.monitorPort > 0 {
		s.monitor.WithPortNumber(b.monitorPort)
	}

	url, err := s.monitor.StartServer()
	if err != nil {
		return err
	}

	s.monitorURL = url

	return nil
}
