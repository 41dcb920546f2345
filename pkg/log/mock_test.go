package log_test

import "github.com/erc7824/nitrolite/walletlink/pkg/log"

var _ log.Logger = &MockLogger{}

// MockLogger captures the last entry and the logger state.
type MockLogger struct {
	last          MockLogEntry
	name          string
	keysAndValues []any
	callerSkip    int
}

type MockLogEntry struct {
	Level         log.Level
	Message       string
	KeysAndValues []any
}

func NewMockLogger() *MockLogger {
	return &MockLogger{name: "mock", keysAndValues: []any{}}
}

func (ml *MockLogger) Debug(msg string, kv ...any) { ml.record(log.LevelDebug, msg, kv) }
func (ml *MockLogger) Info(msg string, kv ...any)  { ml.record(log.LevelInfo, msg, kv) }
func (ml *MockLogger) Warn(msg string, kv ...any)  { ml.record(log.LevelWarn, msg, kv) }
func (ml *MockLogger) Error(msg string, kv ...any) { ml.record(log.LevelError, msg, kv) }
func (ml *MockLogger) Fatal(msg string, kv ...any) { ml.record(log.LevelFatal, msg, kv) }

func (ml *MockLogger) WithKV(key string, value any) log.Logger {
	ml.keysAndValues = append(ml.keysAndValues, key, value)
	return ml
}

func (ml *MockLogger) GetAllKV() []any { return ml.keysAndValues }

func (ml *MockLogger) WithName(name string) log.Logger {
	ml.name = name
	return ml
}

func (ml *MockLogger) Name() string { return ml.name }

func (ml *MockLogger) AddCallerSkip(skip int) log.Logger {
	ml.callerSkip += skip
	return ml
}

func (ml *MockLogger) record(level log.Level, msg string, kv []any) {
	ml.last = MockLogEntry{
		Level:         level,
		Message:       msg,
		KeysAndValues: append(append([]any{}, ml.keysAndValues...), kv...),
	}
}

// MockSpanEventRecorder keeps the last recorded event.
type MockSpanEventRecorder struct {
	traceID, spanID string
	hasErr          bool
	lastEvent       []any
}

func (ser *MockSpanEventRecorder) TraceID() string { return ser.traceID }
func (ser *MockSpanEventRecorder) SpanID() string  { return ser.spanID }

func (ser *MockSpanEventRecorder) RecordEvent(name string, kv ...any) {
	ser.lastEvent = append([]any{"msg", name}, kv...)
}

func (ser *MockSpanEventRecorder) RecordError(name string, kv ...any) {
	ser.hasErr = true
	ser.lastEvent = append([]any{"msg", name}, kv...)
}

func kvToMap(kv []any) map[string]any {
	m := make(map[string]any)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			m[key] = kv[i+1]
		}
	}
	return m
}
