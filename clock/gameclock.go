package clock

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simlane/timeline/scheduling"
)

// Speed is how fast game time runs compared with real time.
type Speed int

// Game speeds.
const (
	SpeedPaused Speed = iota
	SpeedNormal
	SpeedFast
	SpeedUltra
)

func (s Speed) String() string {
	switch s {
	case SpeedPaused:
		return "paused"
	case SpeedNormal:
		return "normal"
	case SpeedFast:
		return "fast"
	case SpeedUltra:
		return "ultra"
	default:
		return fmt.Sprintf("speed(%d)", int(s))
	}
}

// Multiplier returns how many game milliseconds pass per real millisecond.
func (s Speed) Multiplier() float64 {
	switch s {
	case SpeedNormal:
		return 1
	case SpeedFast:
		return 3
	case SpeedUltra:
		return 6
	default:
		return 0
	}
}

// ParseSpeed converts a speed name into a Speed.
func ParseSpeed(name string) (Speed, error) {
	for s := SpeedPaused; s <= SpeedUltra; s++ {
		if s.String() == name {
			return s, nil
		}
	}

	return SpeedPaused, fmt.Errorf("clock: unknown speed %q", name)
}

// A GameClock turns elapsed real time into game time at an adjustable
// speed. Game time only moves when Update is called. It is safe for
// concurrent use.
type GameClock struct {
	mu       sync.RWMutex
	source   func() time.Time
	last     time.Time
	now      scheduling.Time
	carry    float64
	speed    Speed
	resumeTo Speed
	logger   *zap.Logger
}

// NewGameClock creates a GameClock at start running at normal speed.
func NewGameClock(start scheduling.Time, logger *zap.Logger) *GameClock {
	return NewGameClockFrom(start, time.Now, logger)
}

// NewGameClockFrom creates a GameClock that reads real time from source.
func NewGameClockFrom(
	start scheduling.Time,
	source func() time.Time,
	logger *zap.Logger,
) *GameClock {
	return &GameClock{
		source:   source,
		last:     source(),
		now:      start,
		speed:    SpeedNormal,
		resumeTo: SpeedNormal,
		logger:   logger,
	}
}

// Now returns the game time as of the last Update.
func (c *GameClock) Now() scheduling.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.now
}

// Speed returns the current speed.
func (c *GameClock) Speed() Speed {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.speed
}

// Update advances game time by the real time elapsed since the previous
// Update, scaled by the speed, and returns the new game time.
func (c *GameClock) Update() scheduling.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settle()

	return c.now
}

// SetSpeed changes the speed. Time elapsed before the change is counted at
// the old speed on the next Update.
func (c *GameClock) SetSpeed(s Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settle()

	if s != SpeedPaused {
		c.resumeTo = s
	}

	if s == c.speed {
		return
	}

	c.logger.Info("game speed changed",
		zap.Stringer("from", c.speed),
		zap.Stringer("to", s),
		zap.Int64("game_time", int64(c.now)))
	c.speed = s
}

// Pause stops game time.
func (c *GameClock) Pause() {
	c.SetSpeed(SpeedPaused)
}

// Continue restores the speed the clock had before it was paused.
func (c *GameClock) Continue() {
	c.mu.RLock()
	s := c.resumeTo
	c.mu.RUnlock()

	c.SetSpeed(s)
}

// Paused tells if game time is stopped.
func (c *GameClock) Paused() bool {
	return c.Speed() == SpeedPaused
}

// settle accounts for the real time elapsed at the current speed. The caller
// holds the lock.
func (c *GameClock) settle() {
	wall := c.source()
	elapsed := wall.Sub(c.last)
	c.last = wall

	if elapsed <= 0 {
		return
	}

	ms := float64(elapsed)/float64(time.Millisecond)*c.speed.Multiplier() +
		c.carry
	whole := int64(ms)
	c.carry = ms - float64(whole)
	c.now = c.now.Add(scheduling.TimeSpan(whole))
}
