package logger

import (
	"fmt"
	"sync"
)

// TestLogEntry is a captured log call
type TestLogEntry struct {
	Severity string
	Message  string
	Metadata map[string]interface{}
}

type testLogState struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger captures log entries in memory so tests can assert on them.
// Loggers derived with With share the same entry log and are safe for
// concurrent use.
type TestLogger struct {
	state    *testLogState
	metadata map[string]interface{}
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a TestLogger that records every call
func NewTestLogger() *TestLogger {
	return &TestLogger{state: &testLogState{}}
}

// Entries returns a snapshot of everything logged so far
func (c *TestLogger) Entries() []TestLogEntry {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	out := make([]TestLogEntry, len(c.state.entries))
	copy(out, c.state.entries)
	return out
}

func (c *TestLogger) record(severity string, msg string) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.entries = append(c.state.entries, TestLogEntry{
		Severity: severity,
		Message:  msg,
		Metadata: c.metadata,
	})
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	return &TestLogger{
		state:    c.state,
		metadata: mergeMetadata(c.metadata, metadata),
	}
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", fmt.Sprintf(msg, args...))
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", fmt.Sprintf(msg, args...))
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", fmt.Sprintf(msg, args...))
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARN", fmt.Sprintf(msg, args...))
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", fmt.Sprintf(msg, args...))
}
