// Package logging builds the shared zap logger and hands out named
// component loggers. Components log through *zap.Logger directly; this
// package only owns construction and the request-scoped helpers.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given level ("debug", "info", "warn",
// "error") and format ("json" or "console").
func New(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	return cfg.Build()
}

// Nop returns a disabled logger for tests and optional collaborators.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// ForRequest attaches the request correlation id to every entry.
func ForRequest(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// Timer measures one operation and logs its duration on Stop, warning
// when the threshold is exceeded.
type Timer struct {
	logger    *zap.Logger
	op        string
	threshold time.Duration
	start     time.Time
}

// StartTimer begins timing an operation. A zero threshold disables the
// slow-operation warning.
func StartTimer(logger *zap.Logger, op string, threshold time.Duration) *Timer {
	return &Timer{logger: logger, op: op, threshold: threshold, start: time.Now()}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.threshold > 0 && elapsed > t.threshold {
		t.logger.Warn("slow operation",
			zap.String("op", t.op),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", t.threshold))
	} else {
		t.logger.Debug("operation complete",
			zap.String("op", t.op),
			zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
