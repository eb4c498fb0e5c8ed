package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/exodus/model"
)

func TestBuildMessages_MergesToolResults(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "add numbers"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			model.NewToolCall("c1", "core_sum", map[string]any{"a": 1, "b": 2}),
			model.NewToolCall("c2", "core_sum", map[string]any{"a": 3, "b": 4}),
		}},
		{Role: model.RoleTool, ToolCallID: "c1", Content: "3"},
		{Role: model.RoleTool, ToolCallID: "c2", Content: "7"},
		{Role: model.RoleAssistant, Content: "3 and 7"},
	}

	out := buildMessages(msgs)
	require.Len(t, out, 4)
	assert.Len(t, out[1].Content, 2)
	assert.Len(t, out[2].Content, 2)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{
		model.FunctionTool("core_echo", "Echo text", map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		}),
	})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "core_echo", tools[0].OfTool.Name)
	assert.Equal(t, []string{"text"}, tools[0].OfTool.InputSchema.Required)
}
