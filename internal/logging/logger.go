package logging

import (
	"log/slog"
	"os"
)

// NewStdoutHandler returns the JSON stdout handler every process logs through.
func NewStdoutHandler(level slog.Level) slog.Handler {
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
}

// Setup initializes the global slog logger with JSON output to stdout.
// Debug level is enabled outside production.
func Setup(production bool) {
	level := slog.LevelDebug
	if production {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(NewStdoutHandler(level)))
}
