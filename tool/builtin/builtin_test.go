package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/tool"
)

func TestRegister(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg))

	assert.Equal(t, []string{Echo, Sum, Bash, ReadFile}, reg.Names())

	bash, err := reg.Resolve(Bash)
	require.NoError(t, err)
	assert.Equal(t, tool.KindCLI, bash.Kind)

	cmd, err := bash.Command(map[string]any{"command": "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", cmd)
}

func TestEcho(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg))

	spec, args, err := reg.Validate(Echo, map[string]any{"message": "hi"})
	require.NoError(t, err)
	out, err := tool.Invoke(context.Background(), spec, args)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, _, err = reg.Validate(Echo, map[string]any{"text": "hi"})
	assert.ErrorIs(t, err, core.ErrInvalidArguments)
}

func TestSum(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg))

	spec, args, err := reg.Validate(Sum, map[string]any{"a": float64(2), "b": "3"})
	require.NoError(t, err)

	out, err := tool.Invoke(context.Background(), spec, args)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	reg := tool.NewRegistry()
	require.NoError(t, Register(reg))

	spec, args, err := reg.Validate(ReadFile, map[string]any{"path": path, "max_bytes": 5})
	require.NoError(t, err)
	out, err := tool.Invoke(context.Background(), spec, args)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	spec, args, err = reg.Validate(ReadFile, map[string]any{"path": filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	_, err = tool.Invoke(context.Background(), spec, args)
	assert.Error(t, err)
}
