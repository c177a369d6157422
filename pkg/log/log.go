// Package log configures the process slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Setup(logLevel string) {
	SetupWithFormat(logLevel, "text")
}

// SetupWithFormat installs a text or json handler on stderr as the default logger.
func SetupWithFormat(logLevel, format string) {
	slog.SetDefault(New(os.Stderr, logLevel, format))
}

// New builds a logger writing to w.
func New(w io.Writer, logLevel, format string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, options))
	}

	return slog.New(slog.NewTextHandler(w, options))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
