package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the variant of a ConversationEvent.
type EventKind string

const (
	KindUserMessage  EventKind = "user_message"
	KindAgentMessage EventKind = "agent_message"
	KindToolCall     EventKind = "tool_call"
	KindToolResult   EventKind = "tool_result"
	KindHandoff      EventKind = "handoff"
)

// ResultStatus is the outcome of one tool execution.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
)

// ToolCall is the payload of a KindToolCall event.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is the payload of a KindToolResult event. CallID matches the
// originating ToolCall.ID.
type ToolResult struct {
	CallID  string       `json:"call_id"`
	Name    string       `json:"name"`
	Status  ResultStatus `json:"status"`
	Payload any          `json:"payload,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// Handoff is the payload of a KindHandoff event. CallID, when set, is the
// id of the transfer tool call that requested it.
type Handoff struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

// Event is one entry of the append-only conversation log shared by all
// agents of a session. Exactly one of Text, ToolCall, ToolResult, Handoff is
// meaningful, depending on Kind. After append it is never mutated; memory
// backends hand out deep copies.
type Event struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id,omitempty"`
	Kind       EventKind   `json:"kind"`
	Agent      string      `json:"agent,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Handoff    *Handoff    `json:"handoff,omitempty"`
}

func newEvent(kind EventKind, agent string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessageEvent creates a user-authored text message.
func NewUserMessageEvent(text string) Event {
	e := newEvent(KindUserMessage, "")
	e.Text = text
	return e
}

// NewAgentMessageEvent creates an agent-authored text message (final answer
// or intermediate commentary).
func NewAgentMessageEvent(agent, text string) Event {
	e := newEvent(KindAgentMessage, agent)
	e.Text = text
	return e
}

// NewToolCallEvent records an agent requesting a tool.
func NewToolCallEvent(agent string, call ToolCall) Event {
	e := newEvent(KindToolCall, agent)
	if call.ID == "" {
		call.ID = NewID()
	}
	e.ToolCall = &call
	return e
}

// NewToolResultEvent records the outcome of a tool call from an execution
// result.
func NewToolResultEvent(agent, callID, tool string, res ExecutionResult) Event {
	e := newEvent(KindToolResult, agent)
	e.ToolResult = &ToolResult{
		CallID:  callID,
		Name:    tool,
		Status:  res.Status,
		Payload: res.Payload,
		Error:   res.Error,
	}
	return e
}

// NewToolErrorEvent records a tool call that failed before or during
// execution (unknown tool, invalid args, rejected handoff).
func NewToolErrorEvent(agent, callID, tool string, err error) Event {
	return NewToolResultEvent(agent, callID, tool, FailureResult(callID, err))
}

// NewHandoffEvent records a validated transfer of control.
func NewHandoffEvent(from, to, reason string) Event {
	e := newEvent(KindHandoff, from)
	e.Handoff = &Handoff{From: from, To: to, Reason: reason}
	return e
}

// Clone returns a deep copy so callers cannot reach backend state.
func (e Event) Clone() Event {
	c := e
	if e.ToolCall != nil {
		tc := *e.ToolCall
		tc.Args = cloneMap(e.ToolCall.Args)
		c.ToolCall = &tc
	}
	if e.ToolResult != nil {
		tr := *e.ToolResult
		tr.Payload = cloneValue(e.ToolResult.Payload)
		if e.ToolResult.Error != nil {
			ed := *e.ToolResult.Error
			ed.Fields = append([]string(nil), e.ToolResult.Error.Fields...)
			tr.Error = &ed
		}
		c.ToolResult = &tr
	}
	if e.Handoff != nil {
		h := *e.Handoff
		c.Handoff = &h
	}
	return c
}

// IsFailure reports whether the event is a failed tool result.
func (e Event) IsFailure() bool {
	return e.ToolResult != nil && e.ToolResult.Status == StatusFailure
}

// NewID generates a new unique identifier for events, sessions and
// correlation ids.
func NewID() string { return uuid.NewString() }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// CloneArgs deep-copies an argument map.
func CloneArgs(m map[string]any) map[string]any { return cloneMap(m) }
