// Package builtin provides the tools every Exodus process ships with.
package builtin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/exodus/tool"
)

// Names of the built-in tools.
const (
	Echo     = "core_echo"
	Sum      = "core_sum"
	Bash     = "core_bash"
	ReadFile = "core_read_file"
)

// DefaultReadLimit caps how much of a file core_read_file returns.
const DefaultReadLimit = 64 * 1024

// Specs returns the built-in tool specs in registration order.
func Specs() []tool.Spec {
	return []tool.Spec{
		tool.NewFunction(Echo, "Return the given message unchanged.",
			map[string]tool.Param{
				"message": {Type: tool.TypeString, Required: true, Description: "Message to echo"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				return args["message"], nil
			},
		),
		tool.NewFunction(Sum, "Add two integers and return the result.",
			map[string]tool.Param{
				"a": {Type: tool.TypeInteger, Required: true, Description: "First addend"},
				"b": {Type: tool.TypeInteger, Required: true, Description: "Second addend"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				return args["a"].(int64) + args["b"].(int64), nil
			},
		),
		tool.NewCommand(Bash,
			"Execute a Linux shell command and return its output. The command must be a single line.",
			map[string]tool.Param{
				"command": {Type: tool.TypeString, Required: true, Description: "One-line shell command"},
			},
			func(args map[string]any) (string, error) {
				return args["command"].(string), nil
			},
		),
		tool.NewFunction(ReadFile, "Read a text file and return its contents.",
			map[string]tool.Param{
				"path":      {Type: tool.TypeString, Required: true, Description: "Path of the file to read"},
				"max_bytes": {Type: tool.TypeInteger, Default: DefaultReadLimit, Description: "Maximum number of bytes returned"},
			},
			readFile,
		),
	}
}

// Register adds every built-in tool to reg.
func Register(reg *tool.Registry) error {
	for _, s := range Specs() {
		if err := reg.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.Name, err)
		}
	}
	return nil
}

func readFile(ctx context.Context, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := args["max_bytes"].(int64)
	if limit <= 0 {
		return nil, fmt.Errorf("max_bytes must be positive")
	}

	f, err := os.Open(args["path"].(string))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
