package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/tool"
)

func shellSpec() *tool.Spec {
	s := tool.NewCommand("sh", "run a command",
		map[string]tool.Param{"command": {Type: tool.TypeString, Required: true}},
		func(args map[string]any) (string, error) { return args["command"].(string), nil })
	return &s
}

func funcSpec(fn tool.Handler) *tool.Spec {
	s := tool.NewFunction("fn", "in-process", nil, fn)
	return &s
}

func cmdReq(cmd string) core.ExecutionRequest {
	return core.NewExecutionRequest("sh", map[string]any{"command": cmd})
}

func TestLocal_CLISuccess(t *testing.T) {
	d := NewLocal()

	res, err := d.Execute(context.Background(), shellSpec(), cmdReq("echo hello"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "hello", res.Payload)
	assert.NotEmpty(t, res.ID)
}

func TestLocal_CLINonZeroExit(t *testing.T) {
	d := NewLocal()

	res, err := d.Execute(context.Background(), shellSpec(), cmdReq("echo oops >&2; exit 3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExecutionFailure)

	var te *core.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.ExitCode)
	assert.Contains(t, te.Stderr, "oops")

	require.NotNil(t, res.Error)
	assert.Equal(t, core.CodeExecutionFailure, res.Error.Code)
	assert.Equal(t, 3, res.Error.ExitCode)
}

func TestLocal_StderrTailIsBounded(t *testing.T) {
	d := NewLocal(func(o *Options) { o.StderrTail = 16 })

	_, err := d.Execute(context.Background(), shellSpec(), cmdReq("printf '%0100d' 0 >&2; printf END >&2; exit 1"))
	var te *core.ToolError
	require.True(t, errors.As(err, &te))
	assert.Len(t, te.Stderr, 16)
	assert.True(t, len(te.Stderr) > 0 && te.Stderr[len(te.Stderr)-3:] == "END")
}

func TestLocal_Timeout(t *testing.T) {
	d := NewLocal(func(o *Options) { o.Timeout = 100 * time.Millisecond })

	start := time.Now()
	res, err := d.Execute(context.Background(), shellSpec(), cmdReq("sleep 5"))
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, core.CodeTimeout, res.Error.Code)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocal_ParentCancellation(t *testing.T) {
	d := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := d.Execute(ctx, shellSpec(), cmdReq("sleep 5"))
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrTimeout)
}

func TestLocal_PythonHandler(t *testing.T) {
	d := NewLocal()

	ok := funcSpec(func(_ context.Context, args map[string]any) (any, error) { return 42, nil })
	res, err := d.Execute(context.Background(), ok, core.NewExecutionRequest("fn", nil))
	require.NoError(t, err)
	assert.Equal(t, 42, res.Payload)

	failing := funcSpec(func(context.Context, map[string]any) (any, error) { return nil, errors.New("bad input file") })
	_, err = d.Execute(context.Background(), failing, core.NewExecutionRequest("fn", nil))
	assert.ErrorIs(t, err, core.ErrExecutionFailure)
	assert.Contains(t, err.Error(), "bad input file")

	panicking := funcSpec(func(context.Context, map[string]any) (any, error) { panic("boom") })
	res, err = d.Execute(context.Background(), panicking, core.NewExecutionRequest("fn", nil))
	assert.ErrorIs(t, err, core.ErrExecutionFailure)
	assert.Equal(t, core.CodeExecutionFailure, res.Error.Code)
}

func TestLocal_HandlerIgnoringContextTimesOut(t *testing.T) {
	d := NewLocal(func(o *Options) { o.Timeout = 50 * time.Millisecond })
	release := make(chan struct{})
	defer close(release)

	stuck := funcSpec(func(context.Context, map[string]any) (any, error) {
		<-release
		return nil, nil
	})
	_, err := d.Execute(context.Background(), stuck, core.NewExecutionRequest("fn", nil))
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestNew(t *testing.T) {
	d, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, d)

	d, err = New(Config{Mode: "container", Image: "alpine", Container: "exodus"})
	require.NoError(t, err)
	assert.Equal(t, ContainerRef{Image: "alpine", Name: "exodus"}, d.(*Container).Ref())

	_, err = New(Config{Mode: "container"})
	assert.Error(t, err)

	assert.True(t, IsContainer("Docker"))
	assert.False(t, IsContainer(""))

	_, err = New(Config{Mode: "vm"})
	assert.Error(t, err)
}

// -------------------- container driver --------------------

type fakeRuntime struct {
	mu       sync.Mutex
	running  map[string]bool
	exists   map[string]bool
	actions  []ContainerAction
	commands []string
	removed  []string
	inFlight int
	maxSeen  int
	execFn   func(command string) (ProcessOutput, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: map[string]bool{}, exists: map[string]bool{}}
}

func (f *fakeRuntime) EnsureRunning(_ context.Context, ref ContainerRef) (ContainerAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	action := ActionReused
	switch {
	case f.running[ref.Name]:
	case f.exists[ref.Name]:
		action = ActionStarted
	default:
		action = ActionCreated
	}
	f.exists[ref.Name] = true
	f.running[ref.Name] = true
	f.actions = append(f.actions, action)
	return action, nil
}

func (f *fakeRuntime) Exec(_ context.Context, ref ContainerRef, command string) (ProcessOutput, error) {
	f.mu.Lock()
	f.commands = append(f.commands, ref.Name+":"+command)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	fn := f.execFn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if fn != nil {
		return fn(command)
	}
	return ProcessOutput{Stdout: []byte("ran " + command + "\n")}, nil
}

func (f *fakeRuntime) Remove(_ context.Context, ref ContainerRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, ref.Name)
	delete(f.exists, ref.Name)
	f.removed = append(f.removed, ref.Name)
	return nil
}

func (f *fakeRuntime) stop(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = false
}

func TestContainer_LifecycleCreateReuseStart(t *testing.T) {
	rt := newFakeRuntime()
	pool := NewPool(rt)
	d := NewContainer(ContainerRef{Image: "alpine", Name: "box"}, func(o *ContainerOptions) { o.Pool = pool })

	res, err := d.Execute(context.Background(), shellSpec(), cmdReq("ls"))
	require.NoError(t, err)
	assert.Equal(t, "ran ls", res.Payload)

	_, err = d.Execute(context.Background(), shellSpec(), cmdReq("pwd"))
	require.NoError(t, err)

	rt.stop("box")
	_, err = d.Execute(context.Background(), shellSpec(), cmdReq("id"))
	require.NoError(t, err)

	assert.Equal(t, []ContainerAction{ActionCreated, ActionReused, ActionStarted}, rt.actions)
	assert.Equal(t, []string{"box:ls", "box:pwd", "box:id"}, rt.commands)
	assert.Empty(t, rt.removed, "driver must never remove containers")
}

func TestContainer_SerializesExecsPerContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(string) (ProcessOutput, error) {
		time.Sleep(10 * time.Millisecond)
		return ProcessOutput{}, nil
	}
	pool := NewPool(rt)
	d := NewContainer(ContainerRef{Image: "alpine", Name: "box"}, func(o *ContainerOptions) { o.Pool = pool })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Execute(context.Background(), shellSpec(), cmdReq(fmt.Sprintf("echo %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, rt.maxSeen)
	assert.Len(t, rt.commands, 8)
}

func TestContainer_NonZeroExitMapsLikeLocal(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(string) (ProcessOutput, error) {
		return ProcessOutput{Stderr: []byte("not found"), ExitCode: 127}, nil
	}
	d := NewContainer(ContainerRef{Image: "alpine", Name: "box"}, func(o *ContainerOptions) { o.Pool = NewPool(rt) })

	res, err := d.Execute(context.Background(), shellSpec(), cmdReq("nope"))
	assert.ErrorIs(t, err, core.ErrExecutionFailure)
	assert.Equal(t, 127, res.Error.ExitCode)
	assert.Equal(t, "not found", res.Error.Stderr)
}

type fakeRemote struct {
	calls []string
}

func (f *fakeRemote) Execute(_ context.Context, name string, args map[string]any) (any, error) {
	f.calls = append(f.calls, name)
	if name == "missing" {
		return nil, core.UnknownToolError(name)
	}
	return "remote", nil
}

func TestContainer_PythonKindGoesRemote(t *testing.T) {
	remote := &fakeRemote{}
	d := NewContainer(ContainerRef{Image: "alpine", Name: "box"}, func(o *ContainerOptions) {
		o.Pool = NewPool(newFakeRuntime())
		o.Remote = remote
	})

	res, err := d.Execute(context.Background(), funcSpec(nil), core.NewExecutionRequest("fn", nil))
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Payload)

	missing := tool.NewFunction("missing", "", nil, func(context.Context, map[string]any) (any, error) { return nil, nil })
	_, err = d.Execute(context.Background(), &missing, core.NewExecutionRequest("missing", nil))
	assert.ErrorIs(t, err, core.ErrUnknownTool)

	assert.Equal(t, []string{"fn", "missing"}, remote.calls)
}

func TestContainer_PythonKindWithoutExecutorFails(t *testing.T) {
	ran := false
	spec := funcSpec(func(context.Context, map[string]any) (any, error) {
		ran = true
		return "host", nil
	})
	d, err := New(Config{Mode: "container", Image: "alpine", Container: "box", Pool: NewPool(newFakeRuntime())})
	require.NoError(t, err)

	res, err := d.Execute(context.Background(), spec, core.NewExecutionRequest("fn", nil))
	assert.ErrorIs(t, err, core.ErrExecutionFailure)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "no executor configured")
	assert.Nil(t, res.Payload)
	assert.False(t, ran, "handler must not run on the host")
}

func TestPool_Remove(t *testing.T) {
	rt := newFakeRuntime()
	pool := NewPool(rt)
	ref := ContainerRef{Image: "alpine", Name: "box"}

	lease, err := pool.Acquire(context.Background(), ref)
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	assert.Equal(t, []ContainerRef{ref}, pool.Containers())
	require.NoError(t, pool.Remove(context.Background(), ref))
	assert.Empty(t, pool.Containers())
	assert.Equal(t, []string{"box"}, rt.removed)
}

func TestPool_RemoveKeepsExecsSerialized(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(string) (ProcessOutput, error) {
		time.Sleep(5 * time.Millisecond)
		return ProcessOutput{}, nil
	}
	pool := NewPool(rt)
	ref := ContainerRef{Image: "alpine", Name: "box"}
	d := NewContainer(ref, func(o *ContainerOptions) { o.Pool = pool })

	lease, err := pool.Acquire(context.Background(), ref)
	require.NoError(t, err)

	var wg sync.WaitGroup
	run := func(i int) {
		defer wg.Done()
		_, err := d.Execute(context.Background(), shellSpec(), cmdReq(fmt.Sprintf("echo %d", i)))
		assert.NoError(t, err)
	}

	// Waiters queue on the entry held by lease; Remove queues behind them.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go run(i)
	}
	removed := make(chan error, 1)
	go func() { removed <- pool.Remove(context.Background(), ref) }()
	time.Sleep(10 * time.Millisecond)
	lease.Release()

	// Callers arriving after Remove must still take turns with the waiters.
	for i := 4; i < 8; i++ {
		wg.Add(1)
		go run(i)
	}
	require.NoError(t, <-removed)
	wg.Wait()

	assert.Equal(t, 1, rt.maxSeen)
	assert.Len(t, rt.commands, 8)
	assert.LessOrEqual(t, len(pool.Containers()), 1)
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	pool := NewPool(newFakeRuntime())
	ref := ContainerRef{Image: "alpine", Name: "box"}

	lease, err := pool.Acquire(context.Background(), ref)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, ref)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	lease.Release()
	lease, err = pool.Acquire(context.Background(), ref)
	require.NoError(t, err)
	lease.Release()
}
