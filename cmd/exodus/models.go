package main

import (
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/exodus/config"
	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/model"
	"github.com/hupe1980/exodus/model/anthropic"
	"github.com/hupe1980/exodus/model/openai"
	"github.com/hupe1980/exodus/orchestrator"
)

// newModelFactory resolves each agent to a client built from its merged LLM
// settings. Agents registered later than the factory fall back to defaults.
func newModelFactory(defaults config.LLMConfig, agents []config.Agent) orchestrator.ModelFactory {
	settings := make(map[string]config.LLMConfig, len(agents))
	for _, a := range agents {
		settings[a.Definition.Name] = a.LLM
	}

	return func(def core.AgentDefinition) (model.Model, error) {
		llm, ok := settings[def.Name]
		if !ok {
			llm = defaults
		}
		return newModel(llm)
	}
}

func newModel(llm config.LLMConfig) (model.Model, error) {
	switch strings.ToLower(llm.Provider) {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if llm.Model != "" {
				o.Model = llm.Model
			}
			if llm.Temperature != nil {
				o.Temperature = *llm.Temperature
			}
			if llm.MaxTokens > 0 {
				o.MaxCompletionTokens = llm.MaxTokens
			}
			o.APIKey = llm.APIKey
			o.BaseURL = llm.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if llm.Model != "" {
				o.Model = anthropicsdk.Model(llm.Model)
			}
			if llm.Temperature != nil {
				o.Temperature = *llm.Temperature
			}
			if llm.MaxTokens > 0 {
				o.MaxTokens = llm.MaxTokens
			}
			o.APIKey = llm.APIKey
			o.BaseURL = llm.BaseURL
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", llm.Provider)
	}
}
