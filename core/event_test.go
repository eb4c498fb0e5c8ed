package core

import (
	"errors"
	"testing"
)

func TestEvent_Constructors(t *testing.T) {
	user := NewUserMessageEvent("hi")
	if user.Kind != KindUserMessage || user.Text != "hi" || user.ID == "" || user.Timestamp.IsZero() {
		t.Fatalf("NewUserMessageEvent malformed: %+v", user)
	}

	msg := NewAgentMessageEvent("triage", "hello")
	if msg.Kind != KindAgentMessage || msg.Agent != "triage" {
		t.Fatalf("NewAgentMessageEvent malformed: %+v", msg)
	}

	call := NewToolCallEvent("triage", ToolCall{Name: "core_sum", Args: map[string]any{"a": 1}})
	if call.ToolCall == nil || call.ToolCall.ID == "" || call.ToolCall.Name != "core_sum" {
		t.Fatalf("NewToolCallEvent malformed: %+v", call)
	}

	ok := NewToolResultEvent("triage", call.ToolCall.ID, "core_sum", SuccessResult("r1", 3))
	if ok.ToolResult.CallID != call.ToolCall.ID || ok.IsFailure() {
		t.Fatalf("success result malformed: %+v", ok.ToolResult)
	}

	bad := NewToolErrorEvent("triage", "c2", "nope", UnknownToolError("nope"))
	if !bad.IsFailure() || bad.ToolResult.Error.Code != CodeUnknownTool {
		t.Fatalf("failure result malformed: %+v", bad.ToolResult)
	}

	h := NewHandoffEvent("triage", "billing", "invoice question")
	if h.Kind != KindHandoff || h.Handoff.To != "billing" || h.Agent != "triage" {
		t.Fatalf("NewHandoffEvent malformed: %+v", h)
	}
}

func TestEvent_CloneIsDeep(t *testing.T) {
	ev := NewToolCallEvent("a", ToolCall{Name: "t", Args: map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{"x"},
	}})

	c := ev.Clone()
	c.ToolCall.Args["nested"].(map[string]any)["k"] = "changed"
	c.ToolCall.Args["list"].([]any)[0] = "y"
	c.ToolCall.Name = "other"

	if ev.ToolCall.Name != "t" {
		t.Error("clone shares ToolCall pointer")
	}
	if ev.ToolCall.Args["nested"].(map[string]any)["k"] != "v" {
		t.Error("clone shares nested map")
	}
	if ev.ToolCall.Args["list"].([]any)[0] != "x" {
		t.Error("clone shares nested slice")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		is   error
	}{
		{"unknown tool", UnknownToolError("x"), CodeUnknownTool, ErrUnknownTool},
		{"invalid args", InvalidArgumentsError("x", map[string]string{"b": "missing", "a": "bad"}), CodeInvalidArguments, ErrInvalidArguments},
		{"handoff", HandoffRejectedError("a", "b", "not allowed"), CodeHandoffRejected, ErrHandoffRejected},
		{"persistence", PersistenceError("append", errors.New("disk full")), CodePersistence, ErrPersistence},
		{"cancelled", CancellationError(nil), CodeCancelled, ErrCancelled},
		{"plain", errors.New("boom"), CodeExecutionFailure, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Fatalf("CodeOf = %s, want %s", got, tt.code)
			}
			if tt.is != nil && !errors.Is(tt.err, tt.is) {
				t.Fatalf("errors.Is(%v, %v) = false", tt.err, tt.is)
			}
		})
	}
}

func TestInvalidArgumentsError_ListsAllFieldsSorted(t *testing.T) {
	te := InvalidArgumentsError("core_sum", map[string]string{"b": "missing", "a": "expected integer"})
	if len(te.Fields) != 2 || te.Fields[0] != "a" || te.Fields[1] != "b" {
		t.Fatalf("fields = %v", te.Fields)
	}
	if te.Message != "a: expected integer; b: missing" {
		t.Fatalf("message = %q", te.Message)
	}

	res := FailureResult("id", te)
	if res.Error.Code != CodeInvalidArguments || len(res.Error.Fields) != 2 {
		t.Fatalf("detail = %+v", res.Error)
	}
	if !errors.Is(res.Error.Err("core_sum"), ErrInvalidArguments) {
		t.Fatal("detail does not round-trip into the taxonomy")
	}
}

func TestParseErrorCode(t *testing.T) {
	if c, ok := ParseErrorCode("Timeout"); !ok || c.Sentinel() != ErrTimeout {
		t.Fatalf("ParseErrorCode(Timeout) = %v %v", c, ok)
	}
	if _, ok := ParseErrorCode("Bogus"); ok {
		t.Fatal("unexpected code accepted")
	}
}
