package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one provider-neutral chat turn.
//
// Assistant messages carry either Content or ToolCalls. Tool messages carry
// the textual result of the call identified by ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON object of arguments
}

// NewToolCall builds a ToolCall, encoding args as JSON.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	raw, err := json.Marshal(args)
	if err != nil || args == nil {
		raw = []byte("{}")
	}
	return ToolCall{ID: id, Type: "function", Function: ToolCallFunction{Name: name, Arguments: raw}}
}

// DecodeArgs parses the call arguments. Numbers are kept as json.Number so
// that integers survive unchanged; empty arguments decode to an empty map.
func (tc ToolCall) DecodeArgs() (map[string]any, error) {
	raw := bytes.TrimSpace(tc.Function.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}

	// Some providers double-encode arguments as a JSON string.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode arguments of %s: %w", tc.Function.Name, err)
		}
		raw = []byte(s)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	args := map[string]any{}
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("decode arguments of %s: %w", tc.Function.Name, err)
	}
	return args, nil
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// FunctionTool wraps a function declaration into a ToolDefinition.
func FunctionTool(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type:     "function",
		Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters},
	}
}

// Params overrides generation parameters for a single request. Zero values
// keep the adapter defaults.
type Params struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int64    `json:"max_tokens,omitempty"`
}

// Request captures the normalized model input produced by an agent engine.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Params       Params           `json:"params"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete model turn: free text, tool calls, or both.
type Response struct {
	ID           string      `json:"id"`
	Content      string      `json:"content"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the LLM capability boundary. Complete must honour ctx
// cancellation.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Func adapts a function into a Model.
type Func func(ctx context.Context, req Request) (Response, error)

// Complete implements Model.
func (f Func) Complete(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// Info implements Model.
func (Func) Info() Info { return Info{Name: "func", Provider: "local", SupportsTools: true} }

// ScriptedModel is a deterministic Model useful for tests & examples. It
// replays queued responses in order and records every request it receives.
type ScriptedModel struct {
	mu        sync.Mutex
	info      Info
	responses []Response
	requests  []Request
	fallback  func(req Request) (Response, error)
}

// NewScriptedModel constructs a ScriptedModel replaying responses.
func NewScriptedModel(name string, responses ...Response) *ScriptedModel {
	return &ScriptedModel{
		info:      Info{Name: name, Provider: "scripted", SupportsTools: true},
		responses: append([]Response(nil), responses...),
	}
}

// Then queues another response.
func (m *ScriptedModel) Then(resp Response) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m
}

// Otherwise sets the behaviour once the queue is exhausted. Without it an
// exhausted model returns an error.
func (m *ScriptedModel) Otherwise(fn func(req Request) (Response, error)) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
	return m
}

// Complete implements Model.
func (m *ScriptedModel) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		if m.fallback != nil {
			return m.fallback(req)
		}
		return Response{}, fmt.Errorf("scripted model %s: no responses left", m.info.Name)
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Text is a convenience response carrying only text.
func Text(content string) Response {
	return Response{Content: content, FinishReason: "stop"}
}

// Calls is a convenience response carrying only tool calls.
func Calls(calls ...ToolCall) Response {
	return Response{ToolCalls: calls, FinishReason: "tool_calls"}
}
