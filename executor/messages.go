package executor

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/tool"
)

// Commands understood by the daemon.
const (
	CommandPing      = "ping"
	CommandListTools = "list_tools"
	CommandExecute   = "execute"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is the single frame a client sends per connection.
type Request struct {
	// ID is an optional correlation id. The server generates one when absent.
	ID       string         `json:"id,omitempty"`
	Command  string         `json:"command"`
	ToolName string         `json:"tool_name,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`
}

// Response is the single frame the server answers with. Message holds
// "pong", a tool listing, a tool payload or an error string.
type Response struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
}

// OK reports a success response.
func (r Response) OK() bool { return r.Status == StatusSuccess }

// Text returns Message as a string when it is a JSON string.
func (r Response) Text() (string, bool) {
	var s string
	if err := json.Unmarshal(r.Message, &s); err != nil {
		return "", false
	}
	return s, true
}

// ToolInfo is one entry of a list_tools response.
type ToolInfo struct {
	Name        string         `json:"name"`
	Kind        tool.Kind      `json:"kind"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

func toolInfo(s tool.Spec) ToolInfo {
	return ToolInfo{
		Name:        s.Name,
		Kind:        s.Kind,
		Description: s.Description,
		Schema:      tool.Schema(s.Params),
	}
}

func success(v any) Response {
	msg, err := json.Marshal(v)
	if err != nil {
		return failure(fmt.Sprintf("%s: encode result: %v", core.CodeExecutionFailure, err))
	}
	return Response{Status: StatusSuccess, Message: msg}
}

func failure(text string) Response {
	msg, _ := json.Marshal(text)
	return Response{Status: StatusError, Message: msg}
}
