package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/exodus/agent"
	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/logging"
)

// run is the state of one session. It is only touched by the goroutine
// executing Orchestrator.Run.
type run struct {
	o       *Orchestrator
	state   core.SessionState
	mem     core.Memory
	engines map[string]*agent.Engine
	logger  logging.Logger
}

func (r *run) loop(ctx context.Context, input string) (core.Outcome, error) {
	id := r.state.ID
	r.logger.Info("orchestrator.session.started", "session_id", id, "agent", r.state.ActiveAgent)

	if input != "" {
		ev := core.NewUserMessageEvent(input)
		ev.SessionID = id
		if err := r.mem.Append(ctx, ev); err != nil {
			return r.fail(ctx, appendError(ctx, err))
		}
	}

	eng, err := r.engine(r.state.ActiveAgent)
	if err != nil {
		return r.fail(ctx, err)
	}
	eng.Activate()

	ceiling := r.o.opts.MaxIterations
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, core.CancellationError(err))
		}

		// The step that brings the count to the ceiling is charged but never
		// dispatched, whichever agent is active.
		r.state.Advance()
		r.o.opts.Sessions.Save(r.state)
		if ceiling > 0 && r.state.Iteration >= ceiling {
			return r.finish(ctx, core.OutcomeMaxIterationsExceeded, "",
				fmt.Errorf("%w: session %s reached the ceiling of %d steps", core.ErrMaxIterationsExceeded, id, ceiling))
		}
		if err := r.callback(ctx, CallbackBeforeStep, &CallbackContext{}); err != nil {
			return r.fail(ctx, err)
		}

		res, err := eng.Step(ctx, id, r.mem)
		if err != nil {
			return r.fail(ctx, err)
		}
		r.logger.Debug("orchestrator.step",
			"session_id", id,
			"agent", r.state.ActiveAgent,
			"iteration", r.state.Iteration,
			"result", res.Kind.String(),
			"tool_calls", res.ToolCalls,
		)
		if err := r.callback(ctx, CallbackAfterStep, &CallbackContext{Step: &res}); err != nil {
			return r.fail(ctx, err)
		}

		switch res.Kind {
		case agent.StepConclude:
			return r.finish(ctx, core.OutcomeConcluded, res.Answer, nil)
		case agent.StepHandoff:
			next, err := r.handoff(ctx, res)
			if err != nil {
				return r.fail(ctx, err)
			}
			eng = next
		}
	}
}

// handoff re-validates a transfer the active engine accepted and moves the
// active pointer.
func (r *run) handoff(ctx context.Context, res agent.StepResult) (*agent.Engine, error) {
	from := r.state.ActiveAgent

	current, _ := r.o.Agent(from)
	_, registered := r.o.Agent(res.Target)

	var why string
	switch {
	case !registered:
		why = "target agent is not registered"
	case !current.CanHandoffTo(res.Target):
		why = "target is not in the handoff set"
	}

	var next *agent.Engine
	if why == "" {
		eng, err := r.engine(res.Target)
		if err != nil {
			why = err.Error()
		}
		next = eng
	}

	if why != "" {
		r.logHandoff(from, res.Target, why, false)
		note := core.NewAgentMessageEvent(from, fmt.Sprintf("[Error] Cannot transfer to %q: %s", res.Target, why))
		note.SessionID = r.state.ID
		if err := r.mem.Append(ctx, note); err != nil {
			return nil, appendError(ctx, err)
		}
		return nil, core.HandoffRejectedError(from, res.Target, why)
	}

	r.state.SwitchTo(res.Target)
	r.o.opts.Sessions.Save(r.state)
	next.Activate()
	r.logHandoff(from, res.Target, res.Reason, true)

	h := &core.Handoff{From: from, To: res.Target, Reason: res.Reason}
	if err := r.callback(ctx, CallbackHandoff, &CallbackContext{Handoff: h}); err != nil {
		return nil, err
	}
	return next, nil
}

// engine returns the session's engine for name, creating it on first use.
func (r *run) engine(name string) (*agent.Engine, error) {
	if eng, ok := r.engines[name]; ok {
		return eng, nil
	}
	def, ok := r.o.Agent(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	eng, err := r.o.newEngine(def, r)
	if err != nil {
		return nil, err
	}
	r.engines[name] = eng
	return eng, nil
}

// fail classifies err into an outcome. Persistence failures stay failures
// even when ctx was cancelled meanwhile.
func (r *run) fail(ctx context.Context, err error) (core.Outcome, error) {
	switch {
	case errors.Is(err, core.ErrPersistence):
		return r.finish(ctx, core.OutcomeFailed, "", err)
	case errors.Is(err, core.ErrCancelled):
		return r.finish(ctx, core.OutcomeCancelled, "", err)
	case ctx.Err() != nil:
		return r.finish(ctx, core.OutcomeCancelled, "", errors.Join(core.CancellationError(ctx.Err()), err))
	case errors.Is(err, core.ErrMaxIterationsExceeded):
		return r.finish(ctx, core.OutcomeMaxIterationsExceeded, "", err)
	default:
		return r.finish(ctx, core.OutcomeFailed, "", err)
	}
}

func (r *run) finish(ctx context.Context, status core.OutcomeStatus, answer string, err error) (core.Outcome, error) {
	r.state.Terminate()
	r.o.opts.Sessions.Save(r.state)

	out := core.Outcome{
		Status:      status,
		FinalAnswer: answer,
		Agent:       r.state.ActiveAgent,
		State:       r.state.Clone(),
		Err:         err,
	}

	kv := []any{
		"session_id", r.state.ID,
		"status", string(status),
		"agent", r.state.ActiveAgent,
		"iterations", r.state.Iteration,
		"handoffs", r.state.Handoffs,
	}
	if err != nil {
		r.logger.Warn("orchestrator.session.finished", append(kv, "error", err.Error())...)
	} else {
		r.logger.Info("orchestrator.session.finished", kv...)
	}

	// Outcome callbacks run even for cancelled sessions.
	cbErr := r.callback(context.WithoutCancel(ctx), CallbackOutcome, &CallbackContext{Outcome: &out})
	if cbErr != nil {
		r.logger.Error("orchestrator.callback.failed", "session_id", r.state.ID, "error", cbErr.Error())
	}
	return out, err
}

func (r *run) callback(ctx context.Context, t CallbackType, cbCtx *CallbackContext) error {
	cbCtx.State = r.state.Clone()
	return r.o.opts.Callbacks.ExecuteCallbacks(ctx, t, cbCtx)
}

func (r *run) logHandoff(from, to, reason string, accepted bool) {
	if el, ok := r.logger.(*logging.ExodusLogger); ok {
		el.LogHandoff(from, to, reason, accepted)
		return
	}
	if !accepted {
		r.logger.Warn("orchestrator.handoff.rejected", "session_id", r.state.ID, "from", from, "to", to, "reason", reason)
		return
	}
	r.logger.Info("orchestrator.handoff", "session_id", r.state.ID, "from", from, "to", to, "reason", reason)
}

// appendError classifies a failed Memory.Append.
func appendError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, core.ErrPersistence):
		return err
	case ctx.Err() != nil:
		return core.CancellationError(ctx.Err())
	default:
		return core.PersistenceError("append", err)
	}
}

// Agent implements agent.Directory.
func (r *run) Agent(name string) (core.AgentDefinition, bool) { return r.o.Agent(name) }

// AdmitHandoff implements agent.Admitter by building the target's engine
// before the transfer is recorded.
func (r *run) AdmitHandoff(from, to string) error {
	_, err := r.engine(to)
	return err
}

var _ agent.Admitter = (*run)(nil)
