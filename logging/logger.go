package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface used across Exodus.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// ExodusLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It should be cheap to copy via With* methods.
type ExodusLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]any
	component string
	sessionID string
	agent     string
}

// LoggerConfig configures construction of an ExodusLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	SessionID   string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration
// writing to stderr.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr, CustomAttrs: map[string]any{}}
}

// NewLogger builds an ExodusLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *ExodusLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	ctx := map[string]any{}
	for k, v := range cfg.CustomAttrs {
		ctx[k] = v
	}
	return &ExodusLogger{logger: slog.New(handler), level: cfg.Level, context: ctx, component: cfg.Component, sessionID: cfg.SessionID}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *ExodusLogger) clone() *ExodusLogger {
	nl := *l
	nl.context = make(map[string]any, len(l.context))
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *ExodusLogger) WithContext(key string, value any) *ExodusLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (orchestrator, executor, driver, ...).
func (l *ExodusLogger) WithComponent(c string) *ExodusLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithSession attaches a session identifier.
func (l *ExodusLogger) WithSession(sid string) *ExodusLogger {
	nl := l.clone()
	nl.sessionID = sid
	return nl
}

// WithAgent attaches the name of the active agent.
func (l *ExodusLogger) WithAgent(name string) *ExodusLogger {
	nl := l.clone()
	nl.agent = name
	return nl
}

func (l *ExodusLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.sessionID != "" {
		attrs = append(attrs, slog.String("session_id", l.sessionID))
	}
	if l.agent != "" {
		attrs = append(attrs, slog.String("agent", l.agent))
	}
	keys := make([]string, 0, len(l.context))
	for k := range l.context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, l.context[k]))
	}
	return attrs
}

func (l *ExodusLogger) log(level slog.Level, msg string, args ...any) {
	if level < slogLevel(l.level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(l.buildAttrs()...)
	r.Add(args...)
	_ = l.logger.Handler().Handle(context.Background(), r)
}

// Debug logs at debug level. args are slog key/value pairs.
func (l *ExodusLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *ExodusLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *ExodusLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *ExodusLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// ErrorWithStack logs an error plus a runtime stack snapshot.
func (l *ExodusLogger) ErrorWithStack(err error, msg string, args ...any) {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	args = append(args,
		"error", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
		"stack_trace", string(stack[:n]),
	)
	l.log(slog.LevelError, msg, args...)
}

// LogToolCall records execution details for a tool invocation.
func (l *ExodusLogger) LogToolCall(tool, correlationID string, dur time.Duration, err error) {
	args := []any{"tool", tool, "correlation_id", correlationID, "duration_ms", dur.Milliseconds(), "success", err == nil}
	if err != nil {
		l.Error("tool.call.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("tool.call.completed", args...)
}

// LogLLMCall records model call latency, token usage and success.
func (l *ExodusLogger) LogLLMCall(model string, tokens int, dur time.Duration, err error) {
	args := []any{"model", model, "token_count", tokens, "duration_ms", dur.Milliseconds(), "success", err == nil}
	if err != nil {
		l.Error("llm.call.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("llm.call.completed", args...)
}

// LogHandoff records a transfer of control between agents.
func (l *ExodusLogger) LogHandoff(from, to, reason string, accepted bool) {
	if !accepted {
		l.Warn("orchestrator.handoff.rejected", "from", from, "to", to, "reason", reason)
		return
	}
	l.Info("orchestrator.handoff", "from", from, "to", to, "reason", reason)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *ExodusLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Debug("operation.completed", "operation", op, "duration_ms", time.Since(start).Milliseconds()) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// NewSlogLogger creates a new ExodusLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *ExodusLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

var (
	_ Logger = (*ExodusLogger)(nil)
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = NoOpLogger{}
)
