// Package orchestrator runs multi-agent sessions.
//
// An Orchestrator holds the registered agent definitions and drives each
// session on the caller's goroutine: it charges the session-wide iteration
// budget, lets the active agent.Engine take one step, and on a handoff
// re-validates the target before moving the active pointer. Every session
// owns its core.SessionState and conversation log, so concurrent Run calls
// never observe each other.
//
// A session ends in exactly one of four outcomes: concluded, cancelled,
// max_iterations_exceeded or failed. Recoverable tool errors never end a
// session; they are recorded in the log for the model to react to.
package orchestrator
