package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/exodus/agent"
	"github.com/hupe1980/exodus/core"
)

// CallbackType names a point in the session loop where callbacks run.
type CallbackType string

const (
	// CallbackBeforeStep runs after the iteration budget was charged and
	// before the active agent thinks.
	CallbackBeforeStep CallbackType = "before_step"

	// CallbackAfterStep runs once the active agent finished a step.
	CallbackAfterStep CallbackType = "after_step"

	// CallbackHandoff runs after control moved to another agent.
	CallbackHandoff CallbackType = "handoff"

	// CallbackOutcome runs once with the final outcome of a session.
	CallbackOutcome CallbackType = "outcome"
)

// CallbackContext is what a callback sees. Fields that do not apply to the
// callback type are nil.
type CallbackContext struct {
	CallbackType CallbackType

	// State is a snapshot; changing it has no effect on the session.
	State core.SessionState

	Step    *agent.StepResult
	Handoff *core.Handoff
	Outcome *core.Outcome
}

// Callback hooks into the session loop. Callbacks run synchronously on the
// session goroutine. An error returned from a step or handoff callback ends
// the session as failed; errors from outcome callbacks are logged only.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback for callbackType.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cbCtx *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager keeps callbacks per type and runs them in registration
// order. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds cb.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// ExecuteCallbacks runs every callback of callbackType and stops at the
// first error.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cbCtx *CallbackContext) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	cbCtx.CallbackType = callbackType
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback formats session progress into one line per callback and
// hands it to a print function, e.g. a CLI writer.
type LoggingCallback struct {
	callbackType CallbackType
	emit         func(line string)
}

// NewLoggingCallback creates a LoggingCallback.
func NewLoggingCallback(callbackType CallbackType, emit func(line string)) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, emit: emit}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, cbCtx *CallbackContext) error {
	if c.emit == nil {
		return nil
	}

	s := cbCtx.State
	switch {
	case cbCtx.Outcome != nil:
		c.emit(fmt.Sprintf("[%s] session %s: %s after %d steps", c.callbackType, s.ID, cbCtx.Outcome.Status, s.Iteration))
	case cbCtx.Handoff != nil:
		c.emit(fmt.Sprintf("[%s] %s -> %s: %s", c.callbackType, cbCtx.Handoff.From, cbCtx.Handoff.To, cbCtx.Handoff.Reason))
	case cbCtx.Step != nil:
		c.emit(fmt.Sprintf("[%s] step %d agent=%s result=%s tool_calls=%d", c.callbackType, s.Iteration, s.ActiveAgent, cbCtx.Step.Kind, cbCtx.Step.ToolCalls))
	default:
		c.emit(fmt.Sprintf("[%s] step %d agent=%s", c.callbackType, s.Iteration, s.ActiveAgent))
	}
	return nil
}
