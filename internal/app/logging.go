package app

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig configures logging wiring.
type LoggingConfig struct {
	Logger *zap.Logger
	// Level is the handle behind Logger; reloads change it in place.
	Level zap.AtomicLevel
}

// Logging bundles the logger and its level handle.
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// NewLogging constructs logging dependencies.
func NewLogging(cfg LoggingConfig) Logging {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	level := cfg.Level
	if level == (zap.AtomicLevel{}) {
		// Detached handle so reloads are harmless when the caller did not
		// provide one.
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return Logging{
		Logger: logger.Named("app"),
		Level:  level,
	}
}

// NewLogger returns the logger from a Logging bundle.
func NewLogger(logging Logging) *zap.Logger {
	return logging.Logger
}

// NewLogLevel returns the level handle from a Logging bundle.
func NewLogLevel(logging Logging) zap.AtomicLevel {
	return logging.Level
}
