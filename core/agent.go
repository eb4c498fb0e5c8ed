package core

import (
	"errors"
	"fmt"
	"sort"
)

// LLMParams carries the per-agent model parameters. Zero values mean
// "inherit the runtime default"; a nil Temperature is unset while a pointer
// to 0 requests deterministic sampling.
type LLMParams struct {
	Model       string   `json:"model,omitempty" toml:"model" yaml:"model"`
	Temperature *float64 `json:"temperature,omitempty" toml:"temperature" yaml:"temperature"`
	MaxTokens   int64    `json:"max_tokens,omitempty" toml:"max_tokens" yaml:"max_tokens"`
	// MaxIterations bounds the Thinking cycles of a single activation of
	// this agent. It never raises the session-wide ceiling.
	MaxIterations int `json:"max_iterations,omitempty" toml:"max_iterations" yaml:"max_iterations"`
}

// Temperature returns a pointer to t for LLMParams and similar settings.
func Temperature(t float64) *float64 { return &t }

// AgentDefinition is the immutable, data-only description of an agent. It is
// produced by a configuration loader and only read at runtime.
type AgentDefinition struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Directive   string    `json:"directive,omitempty"`
	Tools       []string  `json:"tools,omitempty"`
	Handoffs    []string  `json:"handoffs,omitempty"`
	LLM         LLMParams `json:"llm"`
}

// CanHandoffTo reports whether target is in the agent's handoff set.
func (d AgentDefinition) CanHandoffTo(target string) bool {
	for _, h := range d.Handoffs {
		if h == target {
			return true
		}
	}
	return false
}

// HasTool reports whether the agent may call the named tool.
func (d AgentDefinition) HasTool(name string) bool {
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Clone returns a copy with independent slices.
func (d AgentDefinition) Clone() AgentDefinition {
	c := d
	c.Tools = append([]string(nil), d.Tools...)
	c.Handoffs = append([]string(nil), d.Handoffs...)
	return c
}

// SortedHandoffs returns the handoff set in lexical order.
func (d AgentDefinition) SortedHandoffs() []string {
	out := append([]string(nil), d.Handoffs...)
	sort.Strings(out)
	return out
}

// Validate checks structural invariants of the definition.
func (d AgentDefinition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("agent name is required"))
	}
	seen := map[string]bool{}
	for _, t := range d.Tools {
		if t == "" {
			errs = append(errs, fmt.Errorf("agent %q: empty tool name", d.Name))
			continue
		}
		if seen[t] {
			errs = append(errs, fmt.Errorf("agent %q: duplicate tool %q", d.Name, t))
		}
		seen[t] = true
	}
	targets := map[string]bool{}
	for _, h := range d.Handoffs {
		switch {
		case h == "":
			errs = append(errs, fmt.Errorf("agent %q: empty handoff target", d.Name))
		case h == d.Name:
			errs = append(errs, fmt.Errorf("agent %q: cannot hand off to itself", d.Name))
		case targets[h]:
			errs = append(errs, fmt.Errorf("agent %q: duplicate handoff target %q", d.Name, h))
		}
		targets[h] = true
	}
	if d.LLM.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("agent %q: max_iterations must not be negative", d.Name))
	}
	return errors.Join(errs...)
}
