package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors forming the runtime's error taxonomy. Callers classify
// failures with errors.Is; typed errors (ToolError, persistenceError) map onto
// exactly one sentinel.
var (
	ErrUnknownTool           = errors.New("unknown tool")
	ErrInvalidArguments      = errors.New("invalid arguments")
	ErrTimeout               = errors.New("timeout")
	ErrExecutionFailure      = errors.New("execution failure")
	ErrHandoffRejected       = errors.New("handoff rejected")
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
	ErrPersistence           = errors.New("persistence error")
	ErrProtocolDecode        = errors.New("protocol decode error")
	ErrCancelled             = errors.New("cancelled")
)

// ErrorCode is the stable, wire-safe name of a taxonomy member. It is used in
// ToolResult events and in executor error messages ("<Code>: <detail>").
type ErrorCode string

const (
	CodeUnknownTool           ErrorCode = "UnknownTool"
	CodeInvalidArguments      ErrorCode = "InvalidArguments"
	CodeTimeout               ErrorCode = "Timeout"
	CodeExecutionFailure      ErrorCode = "ExecutionFailure"
	CodeHandoffRejected       ErrorCode = "HandoffRejected"
	CodeMaxIterationsExceeded ErrorCode = "MaxIterationsExceeded"
	CodePersistence           ErrorCode = "PersistenceError"
	CodeProtocolDecode        ErrorCode = "ProtocolDecodeError"
	CodeCancelled             ErrorCode = "Cancelled"
)

var codeSentinels = map[ErrorCode]error{
	CodeUnknownTool:           ErrUnknownTool,
	CodeInvalidArguments:      ErrInvalidArguments,
	CodeTimeout:               ErrTimeout,
	CodeExecutionFailure:      ErrExecutionFailure,
	CodeHandoffRejected:       ErrHandoffRejected,
	CodeMaxIterationsExceeded: ErrMaxIterationsExceeded,
	CodePersistence:           ErrPersistence,
	CodeProtocolDecode:        ErrProtocolDecode,
	CodeCancelled:             ErrCancelled,
}

// codeOrder fixes the precedence used by CodeOf; cancellation wins.
var codeOrder = []ErrorCode{
	CodeCancelled,
	CodeTimeout,
	CodePersistence,
	CodeMaxIterationsExceeded,
	CodeProtocolDecode,
	CodeHandoffRejected,
	CodeUnknownTool,
	CodeInvalidArguments,
	CodeExecutionFailure,
}

// Sentinel returns the taxonomy sentinel for the code (nil when unknown).
func (c ErrorCode) Sentinel() error { return codeSentinels[c] }

// ParseErrorCode maps a wire string back onto a known code.
func ParseErrorCode(s string) (ErrorCode, bool) {
	c := ErrorCode(s)
	_, ok := codeSentinels[c]
	return c, ok
}

// CodeOf returns the taxonomy code of err. Errors outside the taxonomy are
// reported as ExecutionFailure.
func CodeOf(err error) ErrorCode {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	for _, code := range codeOrder {
		if errors.Is(err, codeSentinels[code]) {
			return code
		}
	}
	return CodeExecutionFailure
}

// ToolError describes a recoverable tool-level failure. It is what drivers,
// the registry and the handoff validator return, and what ends up (as an
// ErrorDetail) inside ToolResult events.
type ToolError struct {
	Code     ErrorCode `json:"code"`
	Tool     string    `json:"tool,omitempty"`
	Message  string    `json:"message"`
	Fields   []string  `json:"fields,omitempty"`    // offending argument names (InvalidArguments)
	ExitCode int       `json:"exit_code,omitempty"` // non-zero process exit (ExecutionFailure)
	Stderr   string    `json:"stderr,omitempty"`    // stderr tail (ExecutionFailure)
	cause    error
}

// Error renders "<Code>: <Message>", which is also the executor wire form.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is the sentinel belonging to e.Code.
func (e *ToolError) Is(target error) bool {
	s := e.Code.Sentinel()
	return s != nil && s == target
}

// Unwrap exposes the underlying cause, if any.
func (e *ToolError) Unwrap() error { return e.cause }

// NewToolError creates a ToolError with the given code.
func NewToolError(code ErrorCode, tool, message string) *ToolError {
	return &ToolError{Code: code, Tool: tool, Message: message}
}

// WithCause attaches an underlying error and returns e.
func (e *ToolError) WithCause(err error) *ToolError {
	e.cause = err
	return e
}

// UnknownToolError is returned when a name is not present in a registry.
func UnknownToolError(name string) *ToolError {
	return NewToolError(CodeUnknownTool, name, fmt.Sprintf("tool %q is not registered", name))
}

// InvalidArgumentsError lists every offending field with its problem.
func InvalidArgumentsError(tool string, problems map[string]string) *ToolError {
	fields := make([]string, 0, len(problems))
	for f := range problems {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s", f, problems[f])
	}
	te := NewToolError(CodeInvalidArguments, tool, strings.Join(parts, "; "))
	te.Fields = fields
	return te
}

// HandoffRejectedError reports a transfer the active agent may not perform.
func HandoffRejectedError(from, to, reason string) *ToolError {
	return NewToolError(CodeHandoffRejected, "transfer_to_"+to, fmt.Sprintf("agent %q cannot hand off to %q: %s", from, to, reason))
}

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s: %v", e.op, e.err)
}

func (e *persistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *persistenceError) Unwrap() error { return e.err }

// PersistenceError wraps a backing store failure. The orchestrator treats
// any error matching ErrPersistence as fatal for the session.
func PersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &persistenceError{op: op, err: err}
}
