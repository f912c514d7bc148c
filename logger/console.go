package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	Reset       = "\033[0m"
	Red         = "\033[31m"
	Green       = "\033[32m"
	Magenta     = "\033[35m"
	BlueBold    = "\033[34;1m"
	MagentaBold = "\033[35;1m"
	RedBold     = "\033[31;1m"
	YellowBold  = "\033[33;1m"
	WhiteBold   = "\033[37;1m"
	CyanBold    = "\033[36;1m"
	Gray        = "\033[1;90m"
	Purple      = "\u001b[38;5;200m"
)

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
}

var _ Logger = (*consoleLogger)(nil)

func (c *consoleLogger) clone() *consoleLogger {
	return &consoleLogger{
		prefixes: slices.Clone(c.prefixes),
		metadata: mergeMetadata(c.metadata, nil),
		logLevel: c.logLevel,
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	clone.metadata = mergeMetadata(clone.metadata, metadata)
	return clone
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if !slices.Contains(clone.prefixes, prefix) {
		clone.prefixes = append(clone.prefixes, prefix)
	}
	return clone
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func levelColors(level LogLevel) (string, string) {
	switch level {
	case LevelTrace:
		return CyanBold, Gray
	case LevelDebug:
		return BlueBold, Green
	case LevelInfo:
		return YellowBold, WhiteBold
	case LevelWarn:
		return MagentaBold, Magenta
	default:
		return RedBold, Red
	}
}

func (c *consoleLogger) logWith(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	levelColor, messageColor := levelColors(level)
	var prefix string
	if len(c.prefixes) > 0 {
		prefix = color(Purple) + strings.Join(c.prefixes, " ") + color(Reset) + " "
	}
	var suffix string
	if len(c.metadata) > 0 {
		if buf, err := json.Marshal(c.metadata); err == nil {
			suffix = " " + color(Gray) + string(buf) + color(Reset)
		}
	}
	levelString := level.String()
	var levelPad string
	if len(levelString) < 5 {
		levelPad = strings.Repeat(" ", 5-len(levelString))
	}
	levelText := color(levelColor) + fmt.Sprintf("[%s]%s", levelString, levelPad) + color(Reset)
	message := color(messageColor) + fmt.Sprintf(msg, args...) + color(Reset)
	log.Printf("%s %s%s%s\n", levelText, prefix, message, suffix)
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.logWith(LevelTrace, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.logWith(LevelDebug, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.logWith(LevelInfo, msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.logWith(LevelWarn, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.logWith(LevelError, msg, args...)
}

// NewConsoleLogger returns a new Logger instance which will log to the console
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &consoleLogger{
		logLevel: level,
		metadata: make(map[string]interface{}),
	}
}
