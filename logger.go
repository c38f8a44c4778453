package dictgo

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with engine-specific context helpers so log
// fields stay consistent across the trainer, the GC and the façade.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is nil, a
// text handler to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	}))}
}

// WithNamespace tags log entries with a namespace field.
func (l *Logger) WithNamespace(ns string) *Logger {
	return &Logger{Logger: l.Logger.With("namespace", ns)}
}

// WithDict tags log entries with a dictionary id field.
func (l *Logger) WithDict(id uint16) *Logger {
	return &Logger{Logger: l.Logger.With("dict_id", id)}
}

// WithGeneration tags log entries with a table generation field.
func (l *Logger) WithGeneration(gen uint64) *Logger {
	return &Logger{Logger: l.Logger.With("generation", gen)}
}
