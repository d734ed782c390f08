// Package logging builds the zap loggers used across a session.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger at the given level. The "debug" level produces a
// human-readable development logger, other levels a JSON production logger.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "logging: bad level %q", level)
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "logging: cannot build logger")
	}

	return logger, nil
}

// Named returns a child of logger for one component.
func Named(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		logger = zap.L()
	}

	return logger.Named(component)
}
