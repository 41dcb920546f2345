package log

import (
	"fmt"
	"strings"
)

// Logger is the structured logger used across walletlink.
// keysAndValues are alternating key-value pairs, e.g. "topic", topic, "error", err.
type Logger interface {
	// Debug logs detail that only matters while developing or troubleshooting.
	Debug(msg string, keysAndValues ...any)
	// Info logs routine progress such as a session being approved.
	Info(msg string, keysAndValues ...any)
	// Warn logs unexpected input the client recovers from.
	Warn(msg string, keysAndValues ...any)
	// Error logs failures that need attention.
	Error(msg string, keysAndValues ...any)
	// Fatal logs an unrecoverable failure; the zap implementation exits the process.
	Fatal(msg string, keysAndValues ...any)
	// WithKV returns a logger that adds the pair to every entry.
	WithKV(key string, value any) Logger
	// GetAllKV returns the pairs added with WithKV.
	GetAllKV() []any
	// WithName returns a logger scoped to a component name.
	WithName(name string) Logger
	// Name returns the component name.
	Name() string
	// AddCallerSkip returns a logger that skips extra frames when reporting the caller.
	AddCallerSkip(skip int) Logger
}

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ParseLevel converts a textual level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch lvl := Level(strings.ToLower(strings.TrimSpace(s))); lvl {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return lvl, nil
	case "warning":
		return LevelWarn, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SpanEventRecorder records log entries on a tracing span.
type SpanEventRecorder interface {
	TraceID() string
	SpanID() string
	// RecordEvent adds an event with the given attributes to the span.
	RecordEvent(name string, keysAndValues ...any)
	// RecordError adds an event and marks the span as failed.
	RecordError(name string, keysAndValues ...any)
}
