package tool

import (
	"fmt"
	"runtime/debug"

	"github.com/hupe1980/exodus/core"
)

// NewFunction builds a python-kind spec that exposes a plain Go function as
// a tool.
//
// Example:
//
//	sum := tool.NewFunction(
//	  "core_sum",
//	  "Add two integers",
//	  map[string]tool.Param{
//	    "a": {Type: tool.TypeInteger, Required: true},
//	    "b": {Type: tool.TypeInteger, Required: true},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(int64) + args["b"].(int64), nil
//	  },
//	)
func NewFunction(name, description string, params map[string]Param, fn Handler) Spec {
	return Spec{
		Name:        name,
		Description: description,
		Kind:        KindPython,
		Params:      params,
		Handler:     fn,
	}
}

// NewFunctionFromStruct derives the params of a python-kind tool from a
// struct, see ParamsFromStruct.
func NewFunctionFromStruct(name, description string, structType any, fn Handler) Spec {
	return NewFunction(name, description, ParamsFromStruct(structType), fn)
}

// NewCommand builds a cli-kind spec whose command line is produced by build.
func NewCommand(name, description string, params map[string]Param, build Command) Spec {
	return Spec{
		Name:        name,
		Description: description,
		Kind:        KindCLI,
		Params:      params,
		Command:     build,
	}
}

// panicError converts a recovered panic value into an ExecutionFailure.
func panicError(toolName string, r any) error {
	return core.NewToolError(core.CodeExecutionFailure, toolName, fmt.Sprintf("panic: %v", r)).
		WithCause(&panicErr{val: r, stack: debug.Stack()})
}

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return "panic recovered" }

// Stack returns the goroutine stack captured at recovery time.
func (p *panicErr) Stack() []byte { return p.stack }
