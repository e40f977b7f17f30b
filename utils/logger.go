package utils

import (
	"log/slog"
	"os"
)

// Logger is the logging interface used across dataq. Implementations must
// be safe for concurrent use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

type DefaultLogger struct {
	logger *slog.Logger
}

func NewDefaultLogger(level slog.Level) *DefaultLogger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	return &DefaultLogger{logger: logger}
}

const prefix = "[dataq] "

func (d *DefaultLogger) Debug(msg string, args ...any) {
	d.logger.Debug(prefix+msg, args...)
}

func (d *DefaultLogger) Info(msg string, args ...any) {
	d.logger.Info(prefix+msg, args...)
}

func (d *DefaultLogger) Warn(msg string, args ...any) {
	d.logger.Warn(prefix+msg, args...)
}

func (d *DefaultLogger) Error(msg string, args ...any) {
	d.logger.Error(prefix+msg, args...)
}

// With returns a derived logger carrying the given key/value pairs on
// every record.
func (d *DefaultLogger) With(args ...any) Logger {
	return &DefaultLogger{logger: d.logger.With(args...)}
}
