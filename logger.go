package rpy

import (
	"io"
	"log"
)

// Logger is an optional interface for observing initialization and the
// event loop.
//
// Implementations must be safe for concurrent use. Logging is best-effort
// and Logf must not panic.
type Logger interface {
	// Logf logs a formatted message.
	Logf(format string, args ...any)
}

// LogfFunc adapts a function to the Logger interface.
type LogfFunc func(format string, args ...any)

// Logf calls f(format, args...).
func (f LogfFunc) Logf(format string, args ...any) { f(format, args...) }

// NewStdLogger returns a Logger writing to w with an "rpy: " prefix.
func NewStdLogger(w io.Writer) Logger {
	return LogfFunc(log.New(w, "rpy: ", log.LstdFlags).Printf)
}

type nopLogger struct{}

func (nopLogger) Logf(string, ...any) {}
