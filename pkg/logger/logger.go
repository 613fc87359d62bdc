// Package logger wraps zap with a variadic key-value API, matching the
// call-site shape used across the service (Info/Warn/Error(msg, "k", v, ...)).
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper over zap.SugaredLogger plus an escape hatch to
// the raw *zap.Logger for packages that already speak zap fields directly
// (the cache, retry and tracing packages do).
type Logger struct {
	sugar *zap.SugaredLogger
	raw   *zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error")
// for the given environment ("development" uses a console encoder,
// anything else uses JSON).
func New(level, environment string) (*Logger, error) {
	var cfg zap.Config
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{sugar: zl.Sugar(), raw: zl}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	zl := zap.NewNop()
	return &Logger{sugar: zl.Sugar(), raw: zl}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.sugar.Fatalw(msg, kv...) }

// Zap returns the underlying *zap.Logger for packages that build their own
// zap.Field values.
func (l *Logger) Zap() *zap.Logger {
	return l.raw
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.raw.Sync()
}
