package testutil

import (
	"time"

	"github.com/hupe1980/exodus/core"
)

// StateBuilder assembles a core.SessionState by replaying steps and
// handoffs through its own methods, so the result honours the same
// invariants as one produced by the orchestrator.
type StateBuilder struct {
	state core.SessionState
}

// NewState starts a state for session id at entry.
func NewState(id, entry string) *StateBuilder {
	return &StateBuilder{state: core.NewSessionState(id, entry)}
}

// Steps records n steps of the active agent.
func (b *StateBuilder) Steps(n int) *StateBuilder {
	for i := 0; i < n; i++ {
		b.state.Advance()
	}
	return b
}

// HandoffTo switches the active agent.
func (b *StateBuilder) HandoffTo(agent string) *StateBuilder {
	b.state.SwitchTo(agent)
	return b
}

// StartedAt overrides the start time.
func (b *StateBuilder) StartedAt(t time.Time) *StateBuilder {
	b.state.Started = t
	return b
}

// Terminal marks the session as finished.
func (b *StateBuilder) Terminal() *StateBuilder {
	b.state.Terminate()
	return b
}

// Build returns a copy of the state.
func (b *StateBuilder) Build() core.SessionState { return b.state.Clone() }
