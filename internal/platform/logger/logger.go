package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout at the given level.
func New(level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New with an explicit sink, used by tests.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).
		With("service", "tokenverif")
}
