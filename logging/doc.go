// Package logging provides a minimal logging interface and adapters for Exodus.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the orchestrator, engines, drivers and the executor use
// for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping a *slog.Logger
//   - ExodusLogger with component/session/agent attributes and domain helpers
//     (LogToolCall, LogLLMCall, LogHandoff)
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - FromEnv, configuring a logger from EXODUS_LOG_* variables
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	orch := orchestrator.New(func(o *orchestrator.Options) { o.Logger = logger })
//
// Messages are dotted event names ("tool.registry.overwrite") followed by
// slog key/value pairs.
package logging
