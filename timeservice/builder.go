package timeservice

import (
	"time"

	"go.uber.org/zap"

	"github.com/simlane/timeline/clock"
	"github.com/simlane/timeline/scheduling"
)

// Builder can build a Service.
type Builder struct {
	simClock     clock.Clock
	wallClock    clock.Clock
	logger       *zap.Logger
	maxTimeSlice time.Duration
	idGenerator  scheduling.IDGenerator
	stopwatch    func() time.Time
	hooks        []scheduling.Hook
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		maxTimeSlice: 50 * time.Millisecond,
		stopwatch:    time.Now,
	}
}

// WithSimClock sets the clock the simulation timeline follows.
func (b Builder) WithSimClock(c clock.Clock) Builder {
	b.simClock = c
	return b
}

// WithWallClock sets the clock the wall timeline follows.
func (b Builder) WithWallClock(c clock.Clock) Builder {
	b.wallClock = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithMaxTimeSlice sets how much real time one update may spend on the
// simulation timeline. Zero or less disables slicing.
func (b Builder) WithMaxTimeSlice(d time.Duration) Builder {
	b.maxTimeSlice = d
	return b
}

// WithIDGenerator sets the generator of handle IDs for both timelines.
func (b Builder) WithIDGenerator(g scheduling.IDGenerator) Builder {
	b.idGenerator = g
	return b
}

// WithStopwatch sets the real-time source used to measure time slices.
func (b Builder) WithStopwatch(now func() time.Time) Builder {
	b.stopwatch = now
	return b
}

// WithHook attaches a hook to both timelines when the service starts.
func (b Builder) WithHook(h scheduling.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// Build creates the service. It still needs to be started.
func (b Builder) Build() *Service {
	logger := b.logger
	if logger == nil {
		logger = zap.L()
	}

	wallClock := b.wallClock
	if wallClock == nil {
		wallClock = clock.NewWallClock()
	}

	simClock := b.simClock
	if simClock == nil {
		simClock = clock.NewGameClock(0, logger)
	}

	idGenerator := b.idGenerator
	if idGenerator == nil {
		idGenerator = scheduling.NewSequentialIDGenerator()
	}

	s := &Service{
		simClock:    simClock,
		wallClock:   wallClock,
		logger:      logger,
		idGenerator: idGenerator,
		stopwatch:   b.stopwatch,
		hooks:       b.hooks,
		caches:      NewCacheRegistry(),
	}
	s.SetMaxTimeSlice(b.maxTimeSlice)

	return s
}
