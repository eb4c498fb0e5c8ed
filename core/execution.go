package core

import (
	"context"
	"errors"
	"time"
)

// ExecutionRequest is one tool invocation handed to a driver. It is created
// per call and never persisted beyond the resulting ToolResult event.
type ExecutionRequest struct {
	ID       string         `json:"id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// NewExecutionRequest creates a request with a fresh correlation id.
func NewExecutionRequest(tool string, args map[string]any) ExecutionRequest {
	return ExecutionRequest{ID: NewID(), ToolName: tool, Args: args}
}

// ErrorDetail is the serializable description of a failed execution.
type ErrorDetail struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Fields   []string  `json:"fields,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
}

// Err converts the detail back into a *ToolError.
func (d *ErrorDetail) Err(tool string) error {
	if d == nil {
		return nil
	}
	return &ToolError{Code: d.Code, Tool: tool, Message: d.Message, Fields: d.Fields, ExitCode: d.ExitCode, Stderr: d.Stderr}
}

// ExecutionResult is what a driver returns for one request.
type ExecutionResult struct {
	ID       string        `json:"id"`
	Status   ResultStatus  `json:"status"`
	Payload  any           `json:"payload,omitempty"`
	Error    *ErrorDetail  `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// OK reports a successful execution.
func (r ExecutionResult) OK() bool { return r.Status == StatusSuccess }

// SuccessResult builds a success result.
func SuccessResult(id string, payload any) ExecutionResult {
	return ExecutionResult{ID: id, Status: StatusSuccess, Payload: payload}
}

// FailureResult builds a failure result from any error, classifying it into
// the taxonomy.
func FailureResult(id string, err error) ExecutionResult {
	detail := &ErrorDetail{Code: CodeOf(err), Message: err.Error()}
	var te *ToolError
	if errors.As(err, &te) {
		detail.Message = te.Message
		detail.Fields = te.Fields
		detail.ExitCode = te.ExitCode
		detail.Stderr = te.Stderr
	}
	return ExecutionResult{ID: id, Status: StatusFailure, Error: detail}
}

// CancellationError converts a context error into the Cancelled member of the
// taxonomy while keeping the context error reachable via errors.Is.
func CancellationError(ctxErr error) error {
	if ctxErr == nil {
		ctxErr = context.Canceled
	}
	return errors.Join(ErrCancelled, ctxErr)
}
