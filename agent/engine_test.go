package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/internal/testutil"
	"github.com/hupe1980/exodus/memory"
	"github.com/hupe1980/exodus/model"
	"github.com/hupe1980/exodus/tool"
	"github.com/hupe1980/exodus/tool/builtin"
)

func testRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	return reg
}

func coder() core.AgentDefinition {
	return core.AgentDefinition{
		Name:        "coder",
		Description: "Writes code",
		Directive:   "You are {{.Agent.Name}}.",
		Tools:       []string{builtin.Sum, builtin.Bash},
		Handoffs:    []string{"billing"},
	}
}

func directory() Agents {
	return Agents{
		"coder":   coder(),
		"billing": {Name: "billing", Description: "Handles invoices"},
	}
}

func newEngine(t *testing.T, def core.AgentDefinition, m model.Model, optFns ...func(o *Options)) *Engine {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) {
		o.Tools = testRegistry(t)
		o.Agents = directory()
	}}, optFns...)
	e, err := New(def, m, fns...)
	require.NoError(t, err)
	return e
}

func history(t *testing.T, mem core.Memory) []core.Event {
	t.Helper()
	h, err := mem.History(context.Background())
	require.NoError(t, err)
	return h
}

func TestNew_Validation(t *testing.T) {
	_, err := New(core.AgentDefinition{}, model.NewScriptedModel("m"))
	assert.Error(t, err)

	_, err = New(coder(), nil, func(o *Options) { o.Tools = testRegistry(t) })
	assert.Error(t, err)

	_, err = New(coder(), model.NewScriptedModel("m"))
	assert.ErrorIs(t, err, core.ErrUnknownTool)
}

func TestStep_Conclude(t *testing.T) {
	m := model.NewScriptedModel("m", model.Text("all done"))
	e := newEngine(t, coder(), m)
	mem := memory.NewInMemory()
	require.NoError(t, mem.Append(context.Background(), core.NewUserMessageEvent("hi")))

	res, err := e.Step(context.Background(), "s1", mem)
	require.NoError(t, err)
	assert.Equal(t, StepConclude, res.Kind)
	assert.Equal(t, "all done", res.Answer)

	h := history(t, mem)
	require.Len(t, h, 2)
	assert.Equal(t, core.KindAgentMessage, h[1].Kind)
	assert.Equal(t, "coder", h[1].Agent)
	assert.Equal(t, "s1", h[1].SessionID)

	req := m.Requests()[0]
	assert.Equal(t, "You are coder.", req.Instructions)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, model.RoleUser, req.Messages[0].Role)

	names := make([]string, len(req.Tools))
	for i, d := range req.Tools {
		names[i] = d.Function.Name
	}
	assert.Equal(t, []string{builtin.Sum, builtin.Bash, "transfer_to_billing"}, names)
	assert.Contains(t, req.Tools[2].Function.Description, "Handles invoices")
	assert.Equal(t, []string{"reason"}, req.Tools[2].Function.Parameters["required"])
	assert.Equal(t, StateIdle, e.State())
}

func TestStep_ToolInvocation(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.Calls(
			model.NewToolCall("c1", builtin.Sum, map[string]any{"a": 2, "b": 3}),
			model.NewToolCall("c2", builtin.Bash, map[string]any{"command": "echo hi"}),
		),
		model.Text("5 and hi"),
	)
	e := newEngine(t, coder(), m)
	mem := memory.NewInMemory()

	res, err := e.Step(context.Background(), "s1", mem)
	require.NoError(t, err)
	assert.Equal(t, StepContinue, res.Kind)
	assert.Equal(t, 2, res.ToolCalls)

	h := history(t, mem)
	assert.Equal(t, []core.EventKind{core.KindToolCall, core.KindToolCall, core.KindToolResult, core.KindToolResult}, testutil.Kinds(h))
	assert.Equal(t, "c1", h[2].ToolResult.CallID)
	assert.Equal(t, core.StatusSuccess, h[2].ToolResult.Status)
	assert.Equal(t, int64(5), h[2].ToolResult.Payload)
	assert.Equal(t, "hi", h[3].ToolResult.Payload)

	res, err = e.Step(context.Background(), "s1", mem)
	require.NoError(t, err)
	assert.Equal(t, StepConclude, res.Kind)

	msgs := m.Requests()[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Len(t, msgs[0].ToolCalls, 2)
	assert.Equal(t, model.Message{Role: model.RoleTool, ToolCallID: "c1", Content: "5"}, msgs[1])
	assert.Equal(t, "hi", msgs[2].Content)
}

func TestStep_RecoverableToolFailures(t *testing.T) {
	def := coder()
	def.Tools = append(def.Tools, builtin.Echo)

	m := model.NewScriptedModel("m", model.Calls(
		model.NewToolCall("c1", "does_not_exist", nil),
		model.NewToolCall("c2", builtin.Sum, map[string]any{"a": "two", "b": 1, "c": 3}),
		model.NewToolCall("c3", builtin.ReadFile, map[string]any{"path": "/etc/hostname"}),
		model.NewToolCall("c4", builtin.Bash, map[string]any{"command": "echo nope >&2; exit 2"}),
		model.NewToolCall("c5", builtin.Echo, map[string]any{"message": "still works"}),
	))
	e := newEngine(t, def, m)
	mem := memory.NewInMemory()

	res, err := e.Step(context.Background(), "s1", mem)
	require.NoError(t, err)
	assert.Equal(t, StepContinue, res.Kind)

	results := history(t, mem)[5:]
	require.Len(t, results, 5)

	codes := make([]core.ErrorCode, 0, 4)
	for _, ev := range results[:4] {
		require.True(t, ev.IsFailure())
		codes = append(codes, ev.ToolResult.Error.Code)
	}
	assert.Equal(t, []core.ErrorCode{
		core.CodeUnknownTool,
		core.CodeInvalidArguments,
		core.CodeUnknownTool, // registered, but not one of the agent's tools
		core.CodeExecutionFailure,
	}, codes)
	assert.Equal(t, []string{"a", "c"}, results[1].ToolResult.Error.Fields)
	assert.Equal(t, 2, results[3].ToolResult.Error.ExitCode)
	assert.Equal(t, "still works", results[4].ToolResult.Payload)
}

func TestStep_ToolTimeoutIsRecoverable(t *testing.T) {
	m := model.NewScriptedModel("m", model.Calls(model.NewToolCall("c1", builtin.Bash, map[string]any{"command": "sleep 5"})))
	e := newEngine(t, coder(), m, func(o *Options) {
		o.Driver = driver.NewLocal(func(d *driver.Options) { d.Timeout = 50 * time.Millisecond })
	})
	mem := memory.NewInMemory()

	res, err := e.Step(context.Background(), "s1", mem)
	require.NoError(t, err)
	assert.Equal(t, StepContinue, res.Kind)
	assert.Equal(t, core.CodeTimeout, history(t, mem)[1].ToolResult.Error.Code)
}

func TestStep_HandoffAfterPrecedingCalls(t *testing.T) {
	m := model.NewScriptedModel("m", model.Calls(
		model.NewToolCall("c1", builtin.Sum, map[string]any{"a": 1, "b": 1}),
		model.NewToolCall("c2", "transfer_to_billing", map[string]any{"reason": "invoice question"}),
		model.NewToolCall("c3", builtin.Sum, map[string]any{"a": 9, "b": 9}),
	))
	e := newEngine(t, coder(), m)
	mem := memory.NewInMemory()

	res, err := e.Step(context.Background(), "s1", mem)
	require.NoError(t, err)
	assert.Equal(t, StepHandoff, res.Kind)
	assert.Equal(t, "billing", res.Target)
	assert.Equal(t, "invoice question", res.Reason)
	assert.Equal(t, 1, res.ToolCalls)

	h := history(t, mem)
	assert.Equal(t, []core.EventKind{core.KindToolCall, core.KindToolCall, core.KindToolResult, core.KindHandoff}, testutil.Kinds(h))
	assert.Equal(t, int64(2), h[2].ToolResult.Payload)
	assert.Equal(t, core.Handoff{From: "coder", To: "billing", Reason: "invoice question", CallID: "c2"}, *h[3].Handoff)

	msgs := BuildMessages(h)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c2", msgs[2].ToolCallID)
	assert.Equal(t, "[Transferring to billing] invoice question", msgs[2].Content)
}

func TestStep_HandoffRejected(t *testing.T) {
	def := coder()
	def.Handoffs = []string{"billing", "ghost"}

	tests := []struct {
		name   string
		target string
	}{
		{"not in handoff set", "hr"},
		{"not registered", "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.NewScriptedModel("m", model.Calls(model.NewToolCall("c1", "transfer_to_"+tt.target, map[string]any{"reason": "why not"})))
			e := newEngine(t, def, m)
			mem := memory.NewInMemory()

			res, err := e.Step(context.Background(), "s1", mem)
			require.NoError(t, err)
			assert.Equal(t, StepContinue, res.Kind)

			h := history(t, mem)
			require.Len(t, h, 2)
			require.True(t, h[1].IsFailure())
			assert.Equal(t, core.CodeHandoffRejected, h[1].ToolResult.Error.Code)
			assert.Equal(t, "c1", h[1].ToolResult.CallID)
		})
	}
}

type admittingDirectory struct {
	Agents
	err   error
	asked []string
}

func (d *admittingDirectory) AdmitHandoff(from, to string) error {
	d.asked = append(d.asked, from+"->"+to)
	return d.err
}

func TestStep_HandoffNeedsAdmission(t *testing.T) {
	def := coder()
	def.Handoffs = []string{"billing"}
	call := model.NewToolCall("c1", "transfer_to_billing", map[string]any{"reason": "invoice"})

	t.Run("refused", func(t *testing.T) {
		dir := &admittingDirectory{Agents: directory(), err: errors.New("no model for billing")}
		e := newEngine(t, def, model.NewScriptedModel("m", model.Calls(call)), func(o *Options) { o.Agents = dir })
		mem := memory.NewInMemory()

		res, err := e.Step(context.Background(), "s1", mem)
		require.NoError(t, err)
		assert.Equal(t, StepContinue, res.Kind)
		assert.Equal(t, []string{"coder->billing"}, dir.asked)

		h := history(t, mem)
		require.Len(t, h, 2)
		for _, ev := range h {
			assert.NotEqual(t, core.KindHandoff, ev.Kind, "refused transfer must not be recorded")
		}
		require.True(t, h[1].IsFailure())
		assert.Equal(t, core.CodeHandoffRejected, h[1].ToolResult.Error.Code)
		assert.Contains(t, h[1].ToolResult.Error.Message, "no model for billing")
	})

	t.Run("admitted", func(t *testing.T) {
		dir := &admittingDirectory{Agents: directory()}
		e := newEngine(t, def, model.NewScriptedModel("m", model.Calls(call)), func(o *Options) { o.Agents = dir })
		mem := memory.NewInMemory()

		res, err := e.Step(context.Background(), "s1", mem)
		require.NoError(t, err)
		assert.Equal(t, StepHandoff, res.Kind)
		assert.Equal(t, "billing", res.Target)

		h := history(t, mem)
		assert.Equal(t, core.KindHandoff, h[len(h)-1].Kind)
	})
}

func TestStep_PerAgentIterationBudget(t *testing.T) {
	def := coder()
	def.LLM.MaxIterations = 2

	call := model.NewToolCall("", builtin.Sum, map[string]any{"a": 1, "b": 1})
	m := model.NewScriptedModel("m").Otherwise(func(model.Request) (model.Response, error) {
		return model.Calls(call), nil
	})
	e := newEngine(t, def, m)
	mem := memory.NewInMemory()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Step(ctx, "s1", mem)
		require.NoError(t, err)
	}
	_, err := e.Step(ctx, "s1", mem)
	assert.ErrorIs(t, err, core.ErrMaxIterationsExceeded)
	assert.Len(t, m.Requests(), 2)

	e.Activate()
	_, err = e.Step(ctx, "s1", mem)
	assert.NoError(t, err)
}

func TestStep_FatalErrors(t *testing.T) {
	t.Run("model failure", func(t *testing.T) {
		m := model.Func(func(context.Context, model.Request) (model.Response, error) {
			return model.Response{}, errors.New("rate limited")
		})
		e := newEngine(t, coder(), m)

		_, err := e.Step(context.Background(), "s1", memory.NewInMemory())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
		assert.NotErrorIs(t, err, core.ErrCancelled)
	})

	t.Run("cancellation during model call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		m := model.Func(func(ctx context.Context, _ model.Request) (model.Response, error) {
			cancel()
			<-ctx.Done()
			return model.Response{}, ctx.Err()
		})
		e := newEngine(t, coder(), m)

		_, err := e.Step(ctx, "s1", memory.NewInMemory())
		assert.ErrorIs(t, err, core.ErrCancelled)
	})

	t.Run("persistence failure", func(t *testing.T) {
		mem := memory.NewInMemory(func(o *memory.InMemoryOptions) { o.Capacity = 1 })
		require.NoError(t, mem.Append(context.Background(), core.NewUserMessageEvent("fill")))
		e := newEngine(t, coder(), model.NewScriptedModel("m", model.Text("answer")))

		_, err := e.Step(context.Background(), "s1", mem)
		assert.ErrorIs(t, err, core.ErrPersistence)
	})
}

func TestEngine_StateDuringModelCall(t *testing.T) {
	var e *Engine
	var seen State
	m := model.Func(func(context.Context, model.Request) (model.Response, error) {
		seen = e.State()
		return model.Text("ok"), nil
	})
	e = newEngine(t, coder(), m)

	_, err := e.Step(context.Background(), "s1", memory.NewInMemory())
	require.NoError(t, err)
	assert.Equal(t, StateThinking, seen)
	assert.Equal(t, StateIdle, e.State())
}
