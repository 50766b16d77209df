// Package logging provides the engine's leveled logger, with identifiers
// that might reach an external sink wrapped in redact.RedactableString so a
// redaction pass can strip them without touching the rest of the message
// (the teacher's own redact dependency, carried through as an ambient
// concern even though spec.md's Non-goals exclude the serving layer).
package logging

import (
	"log"
	"os"

	"github.com/cockroachdb/redact"
)

// Level is a logging verbosity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?"
	}
}

// Logger is the minimal leveled logging surface every internal package
// takes a dependency on.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// Safe wraps v so it renders through redact.Sprint, keeping table/space
// identifiers marked as safe-for-log while free-form values stay redactable.
func Safe(v interface{}) redact.SafeValue {
	return redact.Safe(v)
}

// stdLogger is the default Logger, writing to stderr via the standard
// library's log.Logger.
type stdLogger struct {
	min  Level
	impl *log.Logger
}

// NewStdLogger returns a Logger over os.Stderr that drops messages below
// min.
func NewStdLogger(min Level) Logger {
	return &stdLogger{min: min, impl: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *stdLogger) Logf(level Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	msg := redact.Sprintf(format, args...)
	l.impl.Printf("[%s] %s", level, msg.StripMarkers())
}

// Nop discards every message; used in tests that don't care about log
// output.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Logf(Level, string, ...interface{}) {}
