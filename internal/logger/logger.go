// Package logger builds the structured loggers used across pipelinehub's
// binaries and libraries. Library code never reaches for a package-level
// logger; it takes a *slog.Logger on its config struct instead.
package logger

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// New returns a colorized, human-readable logger for interactive use in
// cmd/* binaries. Set verbose to include debug-level records.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
}

// NewJSON returns a structured JSON logger, suitable for non-TTY / production
// environments where log aggregation expects machine-parseable lines.
func NewJSON(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewForEnvironment picks JSON for the "production" environment and tint for
// anything else.
func NewForEnvironment(env string, verbose bool) *slog.Logger {
	if env == "production" {
		return NewJSON(verbose)
	}
	return New(verbose)
}
