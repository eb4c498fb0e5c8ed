package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/model"
	"github.com/hupe1980/exodus/tool"
)

// Options configure an Engine.
type Options struct {
	// Tools resolves and validates tool calls. Defaults to an empty registry.
	Tools *tool.Registry
	// Driver executes validated calls. Defaults to a local driver.
	Driver driver.Driver
	// Agents describes handoff targets. When nil every target in the
	// handoff set is assumed to exist.
	Agents Directory
	Logger logging.Logger
}

// Engine runs the Thinking cycle of one agent: build the prompt from the
// shared history, ask the model, then execute tool calls, request a handoff
// or conclude.
//
// An Engine holds no conversation state of its own; everything it observes
// or produces goes through the core.Memory passed to Step. It must not be
// stepped concurrently.
type Engine struct {
	def   core.AgentDefinition
	model model.Model
	opts  Options

	limiter *core.IterationLimiter

	mu    sync.RWMutex
	state State
}

// New creates an engine for def. Every tool named by def must already be
// registered.
func New(def core.AgentDefinition, m model.Model, optFns ...func(o *Options)) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("agent %q: model is required", def.Name)
	}

	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.Driver == nil {
		opts.Driver = driver.NewLocal()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	for _, name := range def.Tools {
		if _, err := opts.Tools.Resolve(name); err != nil {
			return nil, fmt.Errorf("agent %q: %w", def.Name, err)
		}
	}

	return &Engine{
		def:     def.Clone(),
		model:   m,
		opts:    opts,
		limiter: core.NewIterationLimiter(def.LLM.MaxIterations),
		state:   StateIdle,
	}, nil
}

// Name returns the agent name.
func (e *Engine) Name() string { return e.def.Name }

// Definition returns a copy of the agent definition.
func (e *Engine) Definition() core.AgentDefinition { return e.def.Clone() }

// State returns the current phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Activate starts a new activation of the agent, resetting its own
// iteration budget. The orchestrator calls it whenever the agent becomes
// active.
func (e *Engine) Activate() {
	e.limiter.Reset()
	e.setState(StateIdle)
}

// Step performs one Thinking cycle for the session.
//
// Recoverable tool failures (unknown tool, invalid arguments, timeouts,
// execution failures, rejected handoffs) are recorded in mem and reported as
// StepContinue. Errors are fatal for the session: model failures,
// persistence errors, cancellation and an exhausted per-agent budget.
func (e *Engine) Step(ctx context.Context, sessionID string, mem core.Memory) (StepResult, error) {
	defer e.setState(StateIdle)

	if err := e.limiter.Increment(); err != nil {
		return StepResult{}, fmt.Errorf("agent %q: %w", e.def.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, core.CancellationError(err)
	}

	e.setState(StateThinking)

	history, err := mem.History(ctx)
	if err != nil {
		return StepResult{}, e.fatal(ctx, err)
	}

	req, err := e.buildRequest(history, sessionID)
	if err != nil {
		return StepResult{}, err
	}

	start := time.Now()
	resp, err := e.model.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{}, core.CancellationError(ctx.Err())
		}
		e.opts.Logger.Error("agent.llm.failed", "agent", e.def.Name, "session_id", sessionID, "error", err.Error())
		return StepResult{}, fmt.Errorf("agent %q: model: %w", e.def.Name, err)
	}
	e.opts.Logger.Debug("agent.llm.completed",
		"agent", e.def.Name,
		"session_id", sessionID,
		"tool_calls", len(resp.ToolCalls),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if len(resp.ToolCalls) == 0 {
		return e.conclude(ctx, sessionID, mem, resp.Content)
	}

	regular, transfer := splitCalls(resp.ToolCalls)
	if transfer != nil {
		e.setState(StateHandingOff)
	} else {
		e.setState(StateToolInvoking)
	}

	// The whole assistant turn is recorded before anything runs.
	for i := range regular {
		if err := e.appendCall(ctx, sessionID, mem, &regular[i]); err != nil {
			return StepResult{}, err
		}
	}
	if transfer != nil {
		if err := e.appendCall(ctx, sessionID, mem, transfer); err != nil {
			return StepResult{}, err
		}
	}

	for _, call := range regular {
		ev, err := e.invoke(ctx, call)
		if err != nil {
			return StepResult{}, err
		}
		if err := e.append(ctx, sessionID, mem, ev); err != nil {
			return StepResult{}, err
		}
	}

	if transfer == nil {
		return StepResult{Kind: StepContinue, ToolCalls: len(regular)}, nil
	}
	return e.handoff(ctx, sessionID, mem, *transfer, len(regular))
}

func (e *Engine) conclude(ctx context.Context, sessionID string, mem core.Memory, answer string) (StepResult, error) {
	e.setState(StateConcluding)
	if err := e.append(ctx, sessionID, mem, core.NewAgentMessageEvent(e.def.Name, answer)); err != nil {
		return StepResult{}, err
	}
	return StepResult{Kind: StepConclude, Answer: answer}, nil
}

func (e *Engine) handoff(ctx context.Context, sessionID string, mem core.Memory, call model.ToolCall, executed int) (StepResult, error) {
	target, _ := tool.TransferTarget(call.Function.Name)
	args, _ := call.DecodeArgs()
	reason := tool.TransferReason(args)

	if why := e.rejectHandoff(target); why != "" {
		e.opts.Logger.Warn("agent.handoff.rejected", "agent", e.def.Name, "target", target, "reason", why, "session_id", sessionID)
		ev := core.NewToolErrorEvent(e.def.Name, call.ID, call.Function.Name, core.HandoffRejectedError(e.def.Name, target, why))
		if err := e.append(ctx, sessionID, mem, ev); err != nil {
			return StepResult{}, err
		}
		return StepResult{Kind: StepContinue, ToolCalls: executed}, nil
	}

	ev := core.NewHandoffEvent(e.def.Name, target, reason)
	ev.Handoff.CallID = call.ID
	if err := e.append(ctx, sessionID, mem, ev); err != nil {
		return StepResult{}, err
	}
	return StepResult{Kind: StepHandoff, Target: target, Reason: reason, ToolCalls: executed}, nil
}

// rejectHandoff returns why a transfer to target is not allowed, or "".
func (e *Engine) rejectHandoff(target string) string {
	if !e.def.CanHandoffTo(target) {
		return "target is not in the handoff set"
	}
	if e.opts.Agents != nil {
		if _, ok := e.opts.Agents.Agent(target); !ok {
			return "target agent is not registered"
		}
	}
	if a, ok := e.opts.Agents.(Admitter); ok {
		if err := a.AdmitHandoff(e.def.Name, target); err != nil {
			return err.Error()
		}
	}
	return ""
}

// invoke resolves, validates and executes one call and returns its result
// event. Only cancellation is returned as an error.
func (e *Engine) invoke(ctx context.Context, call model.ToolCall) (core.Event, error) {
	name := call.Function.Name

	args, err := call.DecodeArgs()
	if err != nil {
		te := core.NewToolError(core.CodeInvalidArguments, name, err.Error())
		return core.NewToolErrorEvent(e.def.Name, call.ID, name, te), nil
	}

	if !e.def.HasTool(name) {
		te := core.NewToolError(core.CodeUnknownTool, name, fmt.Sprintf("tool %q is not available to agent %q", name, e.def.Name))
		return core.NewToolErrorEvent(e.def.Name, call.ID, name, te), nil
	}

	spec, clean, err := e.opts.Tools.Validate(name, args)
	if err != nil {
		return core.NewToolErrorEvent(e.def.Name, call.ID, name, err), nil
	}

	req := core.NewExecutionRequest(name, clean)
	start := time.Now()
	res, err := e.opts.Driver.Execute(ctx, spec, req)
	if err != nil && errors.Is(err, core.ErrCancelled) && ctx.Err() != nil {
		return core.Event{}, err
	}

	e.opts.Logger.Info("agent.tool.executed",
		"agent", e.def.Name,
		"tool", name,
		"correlation_id", req.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	return core.NewToolResultEvent(e.def.Name, call.ID, name, res), nil
}

func (e *Engine) appendCall(ctx context.Context, sessionID string, mem core.Memory, call *model.ToolCall) error {
	if call.ID == "" {
		call.ID = core.NewID()
	}
	args, err := call.DecodeArgs()
	if err != nil {
		args = nil
	}
	return e.append(ctx, sessionID, mem, core.NewToolCallEvent(e.def.Name, core.ToolCall{ID: call.ID, Name: call.Function.Name, Args: args}))
}

func (e *Engine) append(ctx context.Context, sessionID string, mem core.Memory, ev core.Event) error {
	ev.SessionID = sessionID
	if err := mem.Append(ctx, ev); err != nil {
		return e.fatal(ctx, err)
	}
	return nil
}

func (e *Engine) fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, core.ErrPersistence) {
		return core.CancellationError(ctx.Err())
	}
	if !errors.Is(err, core.ErrPersistence) {
		err = core.PersistenceError("memory", err)
	}
	return fmt.Errorf("agent %q: %w", e.def.Name, err)
}

func (e *Engine) buildRequest(history []core.Event, sessionID string) (model.Request, error) {
	targets := handoffTargets(e.def, e.opts.Agents)

	instructions, err := RenderDirective(e.def, targets, sessionID)
	if err != nil {
		return model.Request{}, err
	}

	tools, err := toolDefinitions(e.opts.Tools, e.def, targets)
	if err != nil {
		return model.Request{}, fmt.Errorf("agent %q: %w", e.def.Name, err)
	}

	return model.Request{
		Instructions: instructions,
		Messages:     BuildMessages(history),
		Tools:        tools,
		Params:       requestParams(e.def.LLM),
	}, nil
}

// splitCalls separates the first transfer call from the regular calls that
// precede it. Calls following the transfer are dropped.
func splitCalls(calls []model.ToolCall) ([]model.ToolCall, *model.ToolCall) {
	for i, c := range calls {
		if _, ok := tool.TransferTarget(c.Function.Name); ok {
			transfer := c
			return append([]model.ToolCall(nil), calls[:i]...), &transfer
		}
	}
	return append([]model.ToolCall(nil), calls...), nil
}
