// Package session keeps snapshots of orchestrator session state.
//
// The orchestrator owns the live core.SessionState of every running session
// and publishes a copy to a Store after each step, so that other goroutines
// (a CLI status command, tests) can observe progress without touching the
// session loop.
package session
