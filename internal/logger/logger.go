package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger represents application logger.
type Logger struct {
	*slog.Logger
}

// New creates new Logger instance writing text records to stdout.
func New(level int) *Logger {
	return NewWithFormat(os.Stdout, level, "text")
}

// NewWithFormat creates a Logger writing to w. Format is "json" or "text";
// anything else falls back to text.
func NewWithFormat(w io.Writer, level int, format string) *Logger {
	opts := &slog.HandlerOptions{Level: slog.Level(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Fatal is equivalent to Error followed by os.Exit(1).
func (l *Logger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	os.Exit(1)
}
