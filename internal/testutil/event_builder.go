package testutil

import (
	"context"

	"github.com/hupe1980/exodus/core"
)

// HistoryBuilder assembles an ordered conversation log. Events authored by
// an agent are attributed to the agent set with As.
//
// Example:
//
//	h := testutil.NewHistory("s1").
//	    User("add 2 and 3").
//	    As("coder").Call("c1", "core_sum", map[string]any{"a": 2, "b": 3}).
//	    Result("c1", "core_sum", int64(5)).
//	    Say("5").
//	    Build()
type HistoryBuilder struct {
	sessionID string
	agent     string
	events    []core.Event
}

// NewHistory starts a history for sessionID.
func NewHistory(sessionID string) *HistoryBuilder {
	return &HistoryBuilder{sessionID: sessionID, agent: "agent"}
}

// As attributes subsequent agent events to name.
func (b *HistoryBuilder) As(name string) *HistoryBuilder { b.agent = name; return b }

// User appends a user message.
func (b *HistoryBuilder) User(text string) *HistoryBuilder {
	return b.add(core.NewUserMessageEvent(text))
}

// Say appends an agent message.
func (b *HistoryBuilder) Say(text string) *HistoryBuilder {
	return b.add(core.NewAgentMessageEvent(b.agent, text))
}

// Call appends a tool call.
func (b *HistoryBuilder) Call(id, name string, args map[string]any) *HistoryBuilder {
	return b.add(core.NewToolCallEvent(b.agent, core.ToolCall{ID: id, Name: name, Args: core.CloneArgs(args)}))
}

// Result appends a successful tool result.
func (b *HistoryBuilder) Result(callID, name string, payload any) *HistoryBuilder {
	return b.add(core.NewToolResultEvent(b.agent, callID, name, core.SuccessResult(callID, payload)))
}

// Failure appends a failed tool result.
func (b *HistoryBuilder) Failure(callID, name string, err error) *HistoryBuilder {
	return b.add(core.NewToolErrorEvent(b.agent, callID, name, err))
}

// Handoff appends an accepted transfer answering callID (which may be empty)
// and attributes subsequent events to the target.
func (b *HistoryBuilder) Handoff(callID, to, reason string) *HistoryBuilder {
	ev := core.NewHandoffEvent(b.agent, to, reason)
	ev.Handoff.CallID = callID
	b.add(ev)
	b.agent = to
	return b
}

// Event appends ev as is, apart from the session id.
func (b *HistoryBuilder) Event(ev core.Event) *HistoryBuilder { return b.add(ev) }

func (b *HistoryBuilder) add(ev core.Event) *HistoryBuilder {
	ev.SessionID = b.sessionID
	b.events = append(b.events, ev)
	return b
}

// Build returns deep copies of the events collected so far.
func (b *HistoryBuilder) Build() []core.Event {
	out := make([]core.Event, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Clone()
	}
	return out
}

// Fill appends the history to mem in order.
func (b *HistoryBuilder) Fill(ctx context.Context, mem core.Memory) error {
	for _, ev := range b.Build() {
		if err := mem.Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Kinds lists the kinds of events, in order.
func Kinds(events []core.Event) []core.EventKind {
	out := make([]core.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
