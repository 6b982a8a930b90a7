package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a slog.Logger for the server process.
// prod JSON logs at INFO level, others Text logs at DEBUG level
func NewLogger(env string) *slog.Logger {
	return newLogger(env, os.Stdout).With("service", "canvas-sync")
}

// NopLogger discards everything; used by tests and the CLI.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLogger(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}
