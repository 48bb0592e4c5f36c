// Package debuglog provides the verbose trace sink toggled by ALARM_DEBUG.
package debuglog

import (
	"fmt"
	"log"
)

// Logger writes through a *log.Logger only when enabled. A nil Logger is
// valid and discards everything.
type Logger struct {
	enabled bool
	out     *log.Logger
}

// New returns a Logger writing to the standard logger.
func New(enabled bool) *Logger {
	return &Logger{enabled: enabled, out: log.Default()}
}

// NewWithLogger returns a Logger writing to out.
func NewWithLogger(enabled bool, out *log.Logger) *Logger {
	return &Logger{enabled: enabled, out: out}
}

// Enabled reports whether debug output is written.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Printf formats and writes a debug line.
func (l *Logger) Printf(format string, v ...any) {
	if !l.Enabled() {
		return
	}
	l.out.Output(2, fmt.Sprintf(format, v...)) //nolint: errcheck
}
