// Package log provides structured logging for go-galina.
// It wraps slog so every binary configures the handler the same way.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger with the specified level and format.
// Format is "json" or "text"; an empty format picks JSON when GO_ENV=production.
func Init(level, format string) {
	once.Do(func() {
		logger = New(os.Stdout, level, format)
		slog.SetDefault(logger)
	})
}

// New builds a logger writing to w without touching the global one.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	if format == "" && os.Getenv("GO_ENV") == "production" {
		format = "json"
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info", "")
	}
	return logger
}

// Component returns a child logger tagged with the component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
