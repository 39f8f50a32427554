// Package sklogimpl defines the interface for the logging backend used by
// sklog and holds the currently configured backend.
package sklogimpl

import (
	"os"
	"sync/atomic"
)

// Severity identifies the severity of a log message.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Fatal
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

// Logger is implemented by logging backends.
type Logger interface {
	// Log a message at the given severity. depth is the number of stack
	// frames to skip when reporting the log call site; format may be empty,
	// in which case args are formatted as in fmt.Sprint.
	Log(depth int, severity Severity, format string, args ...interface{})

	// Flush any buffered log lines.
	Flush()
}

var logger atomic.Value

// SetLogger changes the backend used for all subsequent log calls.
func SetLogger(l Logger) {
	logger.Store(l)
}

// Log dispatches to the configured backend. Exits the process after logging
// a Fatal message.
func Log(depth int, severity Severity, format string, args ...interface{}) {
	l, ok := logger.Load().(Logger)
	if !ok {
		return
	}
	l.Log(depth+1, severity, format, args...)
	if severity == Fatal {
		l.Flush()
		os.Exit(255)
	}
}

// Flush flushes the configured backend.
func Flush() {
	if l, ok := logger.Load().(Logger); ok {
		l.Flush()
	}
}
