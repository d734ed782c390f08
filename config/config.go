// Package config loads the settings of a timeline session from .env files
// and environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the session configuration.
type Config struct {
	// Scheduling
	MaxTimeSlice time.Duration
	TickInterval time.Duration
	SimSpeed     string
	ParallelIDs  bool

	// Monitoring
	MonitorOn   bool
	MonitorPort int

	// Recording
	RecordOn   bool
	RecordPath string

	// Logging
	LogLevel string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		MaxTimeSlice: 50 * time.Millisecond,
		TickInterval: 33 * time.Millisecond,
		SimSpeed:     "normal",
		MonitorPort:  0,
		LogLevel:     "info",
	}
}

// Load reads the given .env files, if they exist, and then the environment.
// Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, errors.Wrap(err, "config: cannot read env files")
		}
	}

	d := Default()
	cfg := &Config{
		MaxTimeSlice: time.Duration(getEnvInt(
			"TIMELINE_MAX_TIME_SLICE_MS",
			int(d.MaxTimeSlice/time.Millisecond))) * time.Millisecond,
		TickInterval: time.Duration(getEnvInt(
			"TIMELINE_TICK_MS",
			int(d.TickInterval/time.Millisecond))) * time.Millisecond,
		SimSpeed:    getEnv("TIMELINE_SIM_SPEED", d.SimSpeed),
		ParallelIDs: getEnvBool("TIMELINE_PARALLEL_IDS", d.ParallelIDs),
		MonitorOn:   getEnvBool("TIMELINE_MONITOR", d.MonitorOn),
		MonitorPort: getEnvInt("TIMELINE_MONITOR_PORT", d.MonitorPort),
		RecordOn:    getEnvBool("TIMELINE_RECORD", d.RecordOn),
		RecordPath:  getEnv("TIMELINE_RECORD_PATH", d.RecordPath),
		LogLevel:    getEnv("TIMELINE_LOG_LEVEL", d.LogLevel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the settings can be used together.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.Errorf("config: tick interval must be positive, got %s",
			c.TickInterval)
	}

	if c.MonitorPort < 0 || c.MonitorPort > 65535 {
		return errors.Errorf("config: invalid monitor port %d", c.MonitorPort)
	}

	if !c.MonitorOn && c.MonitorPort != 0 {
		return errors.New("config: monitor port set but monitoring is off")
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
