package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"
)

// JSONLogEntry defines a single structured log line
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type jsonLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	out      io.Writer
	ts       *time.Time // for unit testing
}

var _ Logger = (*jsonLogger)(nil)

func (c *jsonLogger) clone() *jsonLogger {
	return &jsonLogger{
		prefixes: slices.Clone(c.prefixes),
		metadata: mergeMetadata(c.metadata, nil),
		logLevel: c.logLevel,
		out:      c.out,
		ts:       c.ts,
	}
}

func (c *jsonLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	clone.metadata = mergeMetadata(clone.metadata, metadata)
	return clone
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if !slices.Contains(clone.prefixes, prefix) {
		clone.prefixes = append(clone.prefixes, prefix)
	}
	return clone
}

func (c *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func (c *jsonLogger) logWith(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	message := fmt.Sprintf(msg, args...)
	if len(c.prefixes) > 0 {
		message = strings.Join(c.prefixes, " ") + " " + message
	}
	ts := time.Now()
	if c.ts != nil {
		ts = *c.ts
	}
	entry := JSONLogEntry{
		Timestamp: ts,
		Severity:  level.String(),
		Message:   message,
	}
	if len(c.metadata) > 0 {
		entry.Metadata = c.metadata
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: json.Marshal: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, string(buf))
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.logWith(LevelTrace, msg, args...)
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.logWith(LevelDebug, msg, args...)
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.logWith(LevelInfo, msg, args...)
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.logWith(LevelWarn, msg, args...)
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.logWith(LevelError, msg, args...)
}

// NewJSONLogger returns a new Logger instance which logs one JSON object per line to stdout
func NewJSONLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &jsonLogger{
		logLevel: level,
		metadata: make(map[string]interface{}),
		out:      os.Stdout,
	}
}
