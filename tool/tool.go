// Package tool describes the capabilities agents can invoke: a Spec couples a
// name, a static argument schema and a handler, and a Registry resolves and
// validates calls against the registered specs.
package tool

import (
	"context"
	"fmt"
)

// Kind selects how a driver executes a tool.
type Kind string

const (
	// KindPython tools run an in-process Handler.
	KindPython Kind = "python"
	// KindCLI tools build a shell command that the driver runs.
	KindCLI Kind = "cli"
)

// Handler implements a python-kind tool. Arguments are already validated and
// coerced.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Command builds the shell command line of a cli-kind tool from validated
// arguments.
type Command func(args map[string]any) (string, error)

// Spec describes one tool.
//
// Tool specs should:
//   - Provide clear, descriptive names and descriptions
//   - Declare every accepted argument in Params
//   - Carry a Handler (python kind) or a Command (cli kind)
//
// A Spec is immutable once registered and safe for concurrent use.
type Spec struct {
	Name        string
	Description string
	Kind        Kind
	Params      map[string]Param
	Handler     Handler
	Command     Command
}

// Definition is the JSON-schema function declaration sent to a model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Definition returns the function declaration of the tool.
func (s *Spec) Definition() Definition {
	return Definition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  Schema(s.Params),
	}
}

// Check verifies that the spec is internally consistent.
func (s *Spec) Check() error {
	if s.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	switch s.Kind {
	case KindPython:
		if s.Handler == nil {
			return fmt.Errorf("tool %q: python kind requires a handler", s.Name)
		}
	case KindCLI:
		if s.Command == nil {
			return fmt.Errorf("tool %q: cli kind requires a command builder", s.Name)
		}
	default:
		return fmt.Errorf("tool %q: unsupported kind %q", s.Name, s.Kind)
	}
	for name, p := range s.Params {
		if err := p.check(); err != nil {
			return fmt.Errorf("tool %q: param %q: %w", s.Name, name, err)
		}
	}
	return nil
}
