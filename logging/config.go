package logging

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables read by FromEnv.
const (
	EnvLogLevel  = "EXODUS_LOG_LEVEL"
	EnvLogFormat = "EXODUS_LOG_FORMAT"
	EnvLogSource = "EXODUS_LOG_SOURCE"
)

// ParseLevel converts a textual level ("debug", "info", "warn", "error").
func ParseLevel(raw string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return LogLevelDebug, true
	case "info":
		return LogLevelInfo, true
	case "warn", "warning":
		return LogLevelWarn, true
	case "error":
		return LogLevelError, true
	default:
		return LogLevelInfo, false
	}
}

// ApplyEnv overrides cfg with any EXODUS_LOG_* variables that are set.
func ApplyEnv(cfg *LoggerConfig) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	switch f := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))); f {
	case "json", "text":
		cfg.Format = f
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogSource))); err == nil {
		cfg.AddSource = v
	}
}

// FromEnv builds a logger from DefaultLoggerConfig plus environment
// overrides.
func FromEnv(component string) *ExodusLogger {
	cfg := DefaultLoggerConfig()
	cfg.Component = component
	ApplyEnv(cfg)
	return NewLogger(cfg)
}
