package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/exodus/model"
)

func TestBuildMessages(t *testing.T) {
	req := model.Request{
		Instructions: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{model.NewToolCall("c1", "core_echo", map[string]any{"message": "x"})}},
			{Role: model.RoleTool, ToolCallID: "c1", Content: "x"},
			{Role: model.RoleAssistant, Content: "done"},
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 5)
	require.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, `{"message":"x"}`, msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
}

func TestBuildParams_Overrides(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.Model = "base" })
	temp := 0.1

	params := m.buildParams(model.Request{Params: model.Params{Model: "override", Temperature: &temp, MaxTokens: 10}}, nil)
	assert.Equal(t, "override", params.Model)
	assert.Equal(t, 0.1, params.Temperature.Value)
	assert.Equal(t, int64(10), params.MaxCompletionTokens.Value)
	assert.Empty(t, params.Tools)

	zero := 0.0
	params = m.buildParams(model.Request{Params: model.Params{Temperature: &zero}}, nil)
	assert.Equal(t, 0.0, params.Temperature.Value, "explicit zero overrides the 0.7 default")
	assert.Equal(t, 0.7, m.buildParams(model.Request{}, nil).Temperature.Value)
}
