package assetline

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with assetline-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPack adds a pack name field to the logger.
func (l *Logger) WithPack(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("pack", name),
	}
}

// WithAsset adds an asset name field to the logger.
func (l *Logger) WithAsset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("asset", name),
	}
}

// LogMount logs a pack mount operation.
func (l *Logger) LogMount(source string, err error) {
	if err != nil {
		l.Error("mount failed",
			"source", source,
			"error", err,
		)
	} else {
		l.Info("pack mounted",
			"source", source,
		)
	}
}
