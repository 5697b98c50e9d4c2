// Package log configures process-wide structured logging.
package log

import (
	"log/slog"
	"os"
)

// Setup installs a text slog handler at the given level as the default logger.
func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns the default logger scoped to a module name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
