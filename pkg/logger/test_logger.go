package logger

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// TestLogger is a logger implementation for testing that captures all log messages
type TestLogger struct {
	mu       sync.Mutex
	messages []LogMessage
	buffer   bytes.Buffer
	zerolog  zerolog.Logger
}

// LogMessage represents a captured log message
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// NewTestLogger creates a new test logger
func NewTestLogger() *TestLogger {
	return &TestLogger{zerolog: zerolog.Nop()}
}

func (l *TestLogger) root() *testScope { return &testScope{sink: l} }

func (l *TestLogger) Debug(msg string) { l.root().Debug(msg) }
func (l *TestLogger) Info(msg string)  { l.root().Info(msg) }
func (l *TestLogger) Warn(msg string)  { l.root().Warn(msg) }
func (l *TestLogger) Error(msg string) { l.root().Error(msg) }
func (l *TestLogger) Fatal(msg string) { l.root().Fatal(msg) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.root().DebugWithFields(msg, fields)
}
func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.root().InfoWithFields(msg, fields)
}
func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.root().WarnWithFields(msg, fields)
}
func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.root().ErrorWithFields(msg, fields)
}
func (l *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.root().FatalWithFields(msg, fields)
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.root().WithField(key, value)
}
func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return l.root().WithFields(fields)
}
func (l *TestLogger) WithError(err error) Logger             { return l.root().WithError(err) }
func (l *TestLogger) WithContext(ctx context.Context) Logger { return l }
func (l *TestLogger) GetZerolog() *zerolog.Logger            { return &l.zerolog }

// record captures a log message
func (l *TestLogger) record(msg LogMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)

	fmt.Fprintf(&l.buffer, "[%s] %s", msg.Level, msg.Message)
	if len(msg.Fields) > 0 {
		fmt.Fprintf(&l.buffer, " fields=%v", msg.Fields)
	}
	if msg.Error != nil {
		fmt.Fprintf(&l.buffer, " error=%v", msg.Error)
	}
	fmt.Fprintln(&l.buffer)
}

// GetMessages returns a copy of all captured log messages
func (l *TestLogger) GetMessages() []LogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	messages := make([]LogMessage, len(l.messages))
	copy(messages, l.messages)
	return messages
}

// GetMessagesByLevel returns all messages of a specific level
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	var filtered []LogMessage
	for _, msg := range l.GetMessages() {
		if msg.Level == level {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// FindMessage returns the first message with the given text
func (l *TestLogger) FindMessage(text string) (LogMessage, bool) {
	for _, msg := range l.GetMessages() {
		if msg.Message == text {
			return msg, true
		}
	}
	return LogMessage{}, false
}

// HasMessage checks if a message with the given text was logged
func (l *TestLogger) HasMessage(text string) bool {
	_, ok := l.FindMessage(text)
	return ok
}

// HasError checks if an error was logged
func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

// Clear clears all captured messages
func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	l.buffer.Reset()
}

// String returns all log messages as a string
func (l *TestLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.buffer.String()
}

// testScope carries fields and an error accumulated through With* calls
type testScope struct {
	sink   *TestLogger
	fields map[string]interface{}
	err    error
}

func (s *testScope) log(level, msg string, extra map[string]interface{}) {
	var fields map[string]interface{}
	if len(s.fields) > 0 || len(extra) > 0 {
		fields = s.merged(extra)
	}
	s.sink.record(LogMessage{Level: level, Message: msg, Fields: fields, Error: s.err})
}

func (s *testScope) merged(extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(s.fields)+len(extra))
	for k, v := range s.fields {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (s *testScope) Debug(msg string) { s.log("DEBUG", msg, nil) }
func (s *testScope) Info(msg string)  { s.log("INFO", msg, nil) }
func (s *testScope) Warn(msg string)  { s.log("WARN", msg, nil) }
func (s *testScope) Error(msg string) { s.log("ERROR", msg, nil) }
func (s *testScope) Fatal(msg string) { s.log("FATAL", msg, nil) }

func (s *testScope) DebugWithFields(msg string, f map[string]interface{}) { s.log("DEBUG", msg, f) }
func (s *testScope) InfoWithFields(msg string, f map[string]interface{})  { s.log("INFO", msg, f) }
func (s *testScope) WarnWithFields(msg string, f map[string]interface{})  { s.log("WARN", msg, f) }
func (s *testScope) ErrorWithFields(msg string, f map[string]interface{}) { s.log("ERROR", msg, f) }
func (s *testScope) FatalWithFields(msg string, f map[string]interface{}) { s.log("FATAL", msg, f) }

func (s *testScope) WithField(key string, value interface{}) Logger {
	return &testScope{sink: s.sink, fields: s.merged(map[string]interface{}{key: value}), err: s.err}
}

func (s *testScope) WithFields(fields map[string]interface{}) Logger {
	return &testScope{sink: s.sink, fields: s.merged(fields), err: s.err}
}

func (s *testScope) WithError(err error) Logger {
	return &testScope{sink: s.sink, fields: s.fields, err: err}
}

func (s *testScope) WithContext(ctx context.Context) Logger { return s }
func (s *testScope) GetZerolog() *zerolog.Logger            { return &s.sink.zerolog }
