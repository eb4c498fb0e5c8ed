package agent

import (
	"fmt"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/internal/util"
)

// Directory resolves agent definitions by name. The engine uses it to
// describe handoff targets and to reject transfers to unknown agents.
type Directory interface {
	Agent(name string) (core.AgentDefinition, bool)
}

// Admitter is an optional Directory extension. When the engine's directory
// implements it, a transfer is recorded only after AdmitHandoff returned nil;
// otherwise the call fails with HandoffRejected and the agent stays active.
type Admitter interface {
	AdmitHandoff(from, to string) error
}

// Agents is a map backed Directory.
type Agents map[string]core.AgentDefinition

// Agent implements Directory.
func (a Agents) Agent(name string) (core.AgentDefinition, bool) {
	def, ok := a[name]
	return def, ok
}

// HandoffTarget describes one agent the active agent may transfer to.
type HandoffTarget struct {
	Name        string
	Description string
}

// PromptData is the data a directive template is rendered against:
//
//	{{.Agent.Name}}, {{.Agent.Description}}
//	{{range .Handoffs}}{{.Name}}: {{.Description}}{{end}}
//	{{.Session}}
type PromptData struct {
	Agent    core.AgentDefinition
	Handoffs []HandoffTarget
	Session  string
}

// RenderDirective renders the directive of def. Agents without a directive
// get a generic one.
func RenderDirective(def core.AgentDefinition, handoffs []HandoffTarget, sessionID string) (string, error) {
	text := def.Directive
	if text == "" {
		text = fmt.Sprintf("You are %s, a helpful AI assistant.", def.Name)
	}

	out, err := util.RenderTemplate(text, PromptData{Agent: def, Handoffs: handoffs, Session: sessionID})
	if err != nil {
		return "", fmt.Errorf("agent %q: render directive: %w", def.Name, err)
	}
	return out, nil
}

func handoffTargets(def core.AgentDefinition, dir Directory) []HandoffTarget {
	out := make([]HandoffTarget, 0, len(def.Handoffs))
	for _, name := range def.Handoffs {
		t := HandoffTarget{Name: name}
		if dir != nil {
			if target, ok := dir.Agent(name); ok {
				t.Description = target.Description
			}
		}
		out = append(out, t)
	}
	return out
}
