package tool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/exodus/core"
)

// -------------------- Schema & Validation Tests --------------------

type sampleArgs struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestParamsFromStruct(t *testing.T) {
	params := ParamsFromStruct(sampleArgs{})

	require.Len(t, params, 3)
	assert.Equal(t, TypeString, params["a"].Type)
	assert.True(t, params["a"].Required)
	assert.Equal(t, TypeInteger, params["b"].Type)
	assert.False(t, params["b"].Required)
	assert.False(t, params["c"].Required)
	assert.Equal(t, "Field A", params["a"].Description)
}

func TestSchema(t *testing.T) {
	schema := Schema(map[string]Param{
		"x": {Type: TypeInteger, Required: true, Description: "x value"},
		"y": {Type: TypeString, Default: "hi"},
	})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"x"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "integer", props["x"].(map[string]any)["type"])
	assert.Equal(t, "hi", props["y"].(map[string]any)["default"])
}

func TestValidate_Coercion(t *testing.T) {
	params := map[string]Param{
		"i": {Type: TypeInteger},
		"n": {Type: TypeNumber},
		"b": {Type: TypeBoolean},
		"s": {Type: TypeString},
	}

	tests := []struct {
		name string
		args map[string]any
		want map[string]any
	}{
		{"whole float to integer", map[string]any{"i": float64(3)}, map[string]any{"i": int64(3)}},
		{"numeric string to integer", map[string]any{"i": "42"}, map[string]any{"i": int64(42)}},
		{"int to number", map[string]any{"n": 2}, map[string]any{"n": float64(2)}},
		{"string to number", map[string]any{"n": "1.5"}, map[string]any{"n": 1.5}},
		{"string to boolean", map[string]any{"b": "true"}, map[string]any{"b": true}},
		{"null is absent", map[string]any{"s": nil}, map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate("t", params, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_RejectsAmbiguous(t *testing.T) {
	params := map[string]Param{
		"i": {Type: TypeInteger},
		"b": {Type: TypeBoolean},
		"s": {Type: TypeString},
	}

	for name, args := range map[string]map[string]any{
		"fractional float": {"i": 1.5},
		"word as integer":  {"i": "seven"},
		"yes as boolean":   {"b": "yes"},
		"number as string": {"s": 12},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Validate("t", params, args)
			assert.ErrorIs(t, err, core.ErrInvalidArguments)
		})
	}
}

func TestValidate_ListsEveryOffendingField(t *testing.T) {
	params := map[string]Param{
		"a": {Type: TypeInteger, Required: true},
		"b": {Type: TypeInteger, Required: true},
	}

	_, err := Validate("core_sum", params, map[string]any{"a": "x", "zzz": 1})
	require.Error(t, err)

	var te *core.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.CodeInvalidArguments, te.Code)
	assert.Equal(t, []string{"a", "b", "zzz"}, te.Fields)
}

func TestValidate_DefaultsAndNoMutation(t *testing.T) {
	params := map[string]Param{
		"text":  {Type: TypeString, Required: true},
		"limit": {Type: TypeInteger, Default: 10},
		"mode":  {Type: TypeString, Default: "fast", Enum: []string{"fast", "slow"}},
	}
	args := map[string]any{"text": "hi"}

	got, err := Validate("t", params, args)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi", "limit": int64(10), "mode": "fast"}, got)
	assert.Equal(t, map[string]any{"text": "hi"}, args)

	_, err = Validate("t", params, map[string]any{"text": "hi", "mode": "medium"})
	assert.ErrorIs(t, err, core.ErrInvalidArguments)
}

// -------------------- Registry Tests --------------------

func echoSpec(name, desc string) Spec {
	return NewFunction(name, desc, map[string]Param{"text": {Type: TypeString, Required: true}},
		func(_ context.Context, args map[string]any) (any, error) { return args["text"], nil })
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *recordingLogger) Error(string, ...any) {}

func TestRegistry_RegisterResolveList(t *testing.T) {
	logger := &recordingLogger{}
	reg := NewRegistry(func(o *RegistryOptions) { o.Logger = logger })

	require.NoError(t, reg.Register(echoSpec("first", "v1")))
	require.NoError(t, reg.Register(echoSpec("second", "v1")))
	require.NoError(t, reg.Register(echoSpec("first", "v2")))

	assert.Equal(t, []string{"first", "second"}, reg.Names())
	s, err := reg.Resolve("first")
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Description)
	assert.Equal(t, []string{"tool.registry.overwrite"}, logger.warns)

	_, err = reg.Resolve("nope")
	assert.ErrorIs(t, err, core.ErrUnknownTool)
}

func TestRegistry_RejectsInconsistentSpecs(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register(Spec{Name: "x", Kind: KindPython}))
	assert.Error(t, reg.Register(Spec{Name: "x", Kind: KindCLI}))
	assert.Error(t, reg.Register(Spec{Name: "x", Kind: "wasm"}))
	assert.Error(t, reg.Register(NewFunction("x", "", map[string]Param{"p": {Type: "date"}}, nil)))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_Validate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoSpec("echo", ""))

	_, args, err := reg.Validate("echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", args["text"])

	_, _, err = reg.Validate("missing", nil)
	assert.ErrorIs(t, err, core.ErrUnknownTool)

	_, _, err = reg.Validate("echo", map[string]any{})
	assert.ErrorIs(t, err, core.ErrInvalidArguments)
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoSpec("echo", ""))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := reg.Validate("echo", map[string]any{"text": "x"})
			assert.NoError(t, err)
			assert.Len(t, reg.List(), 1)
		}()
	}
	wg.Wait()
}

func TestInvoke_RecoversPanic(t *testing.T) {
	s := NewFunction("boom", "", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	})

	_, err := Invoke(context.Background(), &s, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExecutionFailure)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestTransferHelpers(t *testing.T) {
	target, ok := TransferTarget("transfer_to_billing")
	assert.True(t, ok)
	assert.Equal(t, "billing", target)

	_, ok = TransferTarget("transfer_to_")
	assert.False(t, ok)
	_, ok = TransferTarget("core_sum")
	assert.False(t, ok)

	def := TransferDefinition("billing", "Handles invoices.")
	assert.Equal(t, "transfer_to_billing", def.Name)
	assert.Contains(t, def.Description, "Handles invoices.")
	assert.Equal(t, []string{"reason"}, def.Parameters["required"])
}
