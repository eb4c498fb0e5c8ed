package agent

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/model"
	"github.com/hupe1980/exodus/tool"
)

// BuildMessages converts the shared conversation log into chat messages.
//
// Consecutive tool calls form one assistant turn, tool results become tool
// messages and an accepted handoff answers the transfer call that requested
// it.
func BuildMessages(history []core.Event) []model.Message {
	msgs := make([]model.Message, 0, len(history))
	lastWasCall := false

	for _, ev := range history {
		isCall := false

		switch ev.Kind {
		case core.KindUserMessage:
			msgs = append(msgs, model.Message{Role: model.RoleUser, Content: ev.Text})
		case core.KindAgentMessage:
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Content: ev.Text})
		case core.KindToolCall:
			if ev.ToolCall == nil {
				continue
			}
			isCall = true
			call := model.NewToolCall(ev.ToolCall.ID, ev.ToolCall.Name, ev.ToolCall.Args)
			if lastWasCall {
				last := &msgs[len(msgs)-1]
				last.ToolCalls = append(last.ToolCalls, call)
			} else {
				msgs = append(msgs, model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{call}})
			}
		case core.KindToolResult:
			if ev.ToolResult == nil {
				continue
			}
			content, isErr := ResultContent(ev.ToolResult)
			msgs = append(msgs, model.Message{Role: model.RoleTool, ToolCallID: ev.ToolResult.CallID, Content: content, IsError: isErr})
		case core.KindHandoff:
			if ev.Handoff == nil {
				continue
			}
			h := ev.Handoff
			if h.CallID != "" {
				msgs = append(msgs, model.Message{Role: model.RoleTool, ToolCallID: h.CallID, Content: handoffNote(h)})
			} else {
				msgs = append(msgs, model.Message{Role: model.RoleAssistant, Content: handoffNote(h)})
			}
		}

		lastWasCall = isCall
	}
	return msgs
}

func handoffNote(h *core.Handoff) string {
	if h.Reason == "" {
		return fmt.Sprintf("[Transferring to %s]", h.To)
	}
	return fmt.Sprintf("[Transferring to %s] %s", h.To, h.Reason)
}

// ResultContent renders a tool result for the model. Failures read
// "<Code>: <message>".
func ResultContent(r *core.ToolResult) (string, bool) {
	if r.Status == core.StatusFailure {
		if r.Error == nil {
			return string(core.CodeExecutionFailure), true
		}
		return fmt.Sprintf("%s: %s", r.Error.Code, r.Error.Message), true
	}

	switch p := r.Payload.(type) {
	case nil:
		return "", false
	case string:
		return p, false
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprint(p), false
		}
		return string(b), false
	}
}

// toolDefinitions returns the agent's tools followed by one transfer tool per
// handoff target.
func toolDefinitions(reg *tool.Registry, def core.AgentDefinition, targets []HandoffTarget) ([]model.ToolDefinition, error) {
	defs, err := reg.Definitions(def.Tools)
	if err != nil {
		return nil, err
	}

	out := make([]model.ToolDefinition, 0, len(defs)+len(targets))
	for _, d := range defs {
		out = append(out, model.FunctionTool(d.Name, d.Description, d.Parameters))
	}
	for _, t := range targets {
		d := tool.TransferDefinition(t.Name, t.Description)
		out = append(out, model.FunctionTool(d.Name, d.Description, d.Parameters))
	}
	return out, nil
}

func requestParams(p core.LLMParams) model.Params {
	params := model.Params{Model: p.Model, MaxTokens: p.MaxTokens}
	if p.Temperature != nil {
		params.Temperature = core.Temperature(*p.Temperature)
	}
	return params
}
