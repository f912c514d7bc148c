package env

import (
	"log"
	"os"
	"strings"

	"github.com/pavelkalin/typeorm/logger"
	"github.com/spf13/cobra"
)

// EnvLine is one KEY=VALUE pair from an environment file.
type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file and returns its key/value pairs.
// A missing file is not an error; it parses as empty.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

// ParseEnvBuffer parses environment file content. Blank lines and lines
// starting with # are skipped; quoted values are dequoted.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key != "" {
			envs = append(envs, env)
		}
	}
	return envs, nil
}

// ProcessEnvLine splits one KEY=VALUE line. A line without = parses as a
// key with an empty value.
func ProcessEnvLine(env string) EnvLine {
	tok := strings.SplitN(env, "=", 2)
	if len(tok) < 2 {
		return EnvLine{Key: env, Val: ""}
	}
	return EnvLine{Key: tok[0], Val: dequote(tok[1])}
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Apply sets every pair into the process environment. Existing variables
// win so the invoking shell can always override a file.
func Apply(lines []EnvLine) {
	for _, line := range lines {
		if _, ok := os.LookupEnv(line.Key); ok {
			continue
		}
		os.Setenv(line.Key, line.Val)
	}
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if none found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel resolves the logging level from the log-level flag, then the
// TYPEORM_LOG_LEVEL environment value, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	level := FlagOrEnv(cmd, "log-level", "TYPEORM_LOG_LEVEL", "info")
	switch level {
	case "debug", "DEBUG":
		return logger.LevelDebug
	case "warn", "WARN":
		return logger.LevelWarn
	case "error", "ERROR":
		return logger.LevelError
	case "trace", "TRACE":
		return logger.LevelTrace
	}
	return logger.LevelInfo
}

// NewLogger returns a console logger at the level resolved by LogLevel.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd))
}
