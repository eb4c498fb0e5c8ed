package executor

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/tool"
	"github.com/hupe1980/exodus/tool/builtin"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// socketPath returns a short socket path; Unix socket paths are limited to
// about 100 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "exo")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "run", "executor.sock")
}

func newRegistry(t *testing.T, extra ...tool.Spec) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	for _, s := range extra {
		require.NoError(t, reg.Register(s))
	}
	return reg
}

func startServer(t *testing.T, reg *tool.Registry, optFns ...func(o *Options)) (*Server, *Client) {
	t.Helper()
	path := socketPath(t)
	srv := NewServer(path, reg, optFns...)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, srv.Close())
	})
	return srv, NewClient(path, func(o *ClientOptions) { o.Timeout = 5 * time.Second })
}

// rawRoundTrip writes frame verbatim and returns the decoded response JSON.
func rawRoundTrip(t *testing.T, path string, frame string) (string, error) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte(frame))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return line, err
	}
	doc, err := base64.StdEncoding.DecodeString(strings.TrimSuffix(line, "\n"))
	require.NoError(t, err)
	return string(doc), nil
}

func blockingTool(name string) tool.Spec {
	return tool.NewFunction(name, "blocks until cancelled", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestServer_Ping(t *testing.T) {
	srv, client := startServer(t, newRegistry(t))

	require.NoError(t, client.Ping(context.Background()))

	frame, err := EncodeFrame(Request{Command: CommandPing})
	require.NoError(t, err)
	doc, err := rawRoundTrip(t, srv.Addr(), string(frame))
	require.NoError(t, err)
	assert.Equal(t, `{"status":"success","message":"pong"}`, doc)
}

func TestServer_EchoDaemon(t *testing.T) {
	reg := tool.NewRegistry()
	for _, s := range builtin.Specs() {
		if s.Name == builtin.Echo {
			require.NoError(t, reg.Register(s))
		}
	}
	srv, client := startServer(t, reg)

	send := func(doc string) string {
		t.Helper()
		out, err := rawRoundTrip(t, srv.Addr(), base64.StdEncoding.EncodeToString([]byte(doc))+"\n")
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, `{"status":"success","message":"pong"}`, send(`{"command":"ping"}`))

	infos, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, builtin.Echo, infos[0].Name)
	assert.Equal(t, tool.KindPython, infos[0].Kind)
	assert.ElementsMatch(t, []any{"message"}, infos[0].Schema["required"])

	assert.Equal(t, `{"status":"success","message":"hi"}`,
		send(`{"command":"execute","tool_name":"core_echo","tool_args":{"message":"hi"}}`))
}

func TestServer_ListToolsInRegistrationOrder(t *testing.T) {
	_, client := startServer(t, newRegistry(t, blockingTool("slow")))

	infos, err := client.ListTools(context.Background())
	require.NoError(t, err)

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	want := []string{builtin.Echo, builtin.Sum, builtin.Bash, builtin.ReadFile, "slow"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("tool order mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, tool.KindPython, infos[1].Kind)
	assert.Equal(t, tool.KindCLI, infos[2].Kind)
	assert.Equal(t, "object", infos[1].Schema["type"])
	assert.ElementsMatch(t, []any{"a", "b"}, infos[1].Schema["required"])
}

func TestServer_Execute(t *testing.T) {
	_, client := startServer(t, newRegistry(t))
	ctx := context.Background()

	got, err := client.Execute(ctx, builtin.Sum, map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, float64(5), got)

	got, err = client.Execute(ctx, builtin.Echo, map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = client.Execute(ctx, builtin.Bash, map[string]any{"command": "echo from-shell"})
	require.NoError(t, err)
	assert.Equal(t, "from-shell", got)
}

func TestServer_ExecuteErrors(t *testing.T) {
	_, client := startServer(t, newRegistry(t))
	ctx := context.Background()

	_, err := client.Execute(ctx, "nope", nil)
	assert.ErrorIs(t, err, core.ErrUnknownTool)

	_, err = client.Execute(ctx, builtin.Sum, map[string]any{"a": "two"})
	assert.ErrorIs(t, err, core.ErrInvalidArguments)

	_, err = client.Execute(ctx, builtin.Bash, map[string]any{"command": "echo failing >&2; exit 3"})
	assert.ErrorIs(t, err, core.ErrExecutionFailure)
	assert.Contains(t, err.Error(), "failing")
}

func TestServer_ErrorMessages(t *testing.T) {
	_, client := startServer(t, newRegistry(t))

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"unknown tool", Request{Command: CommandExecute, ToolName: "nope"}, `UnknownTool: tool "nope" is not registered`},
		{"missing tool name", Request{Command: CommandExecute}, "InvalidArguments: tool_name is required"},
		{"unknown command", Request{Command: "dance"}, `unknown command "dance"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Send(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, StatusError, resp.Status)
			text, ok := resp.Text()
			require.True(t, ok)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestServer_MalformedFrameGetsNoResponse(t *testing.T) {
	srv, client := startServer(t, newRegistry(t))

	line, err := rawRoundTrip(t, srv.Addr(), "%%% definitely not base64 %%%\n")
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, line)

	// the daemon keeps serving
	require.NoError(t, client.Ping(context.Background()))
}

func TestServer_ConcurrentConnections(t *testing.T) {
	_, client := startServer(t, newRegistry(t), func(o *Options) { o.Workers = 4 })

	var wg sync.WaitGroup
	results := make([]any, 32)
	errs := make([]error, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Execute(context.Background(), builtin.Sum, map[string]any{"a": i, "b": i})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, float64(2*i), results[i])
	}
}

func TestServer_SlowExecuteDoesNotBlockPing(t *testing.T) {
	_, client := startServer(t, newRegistry(t, blockingTool("slow")), func(o *Options) { o.Workers = 2 })

	ctx, cancel := context.WithCancel(context.Background())
	slowDone := make(chan error, 1)
	go func() {
		_, err := client.Execute(ctx, "slow", nil)
		slowDone <- err
	}()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pingCancel()
	require.NoError(t, client.Ping(pingCtx))

	cancel()
	assert.ErrorIs(t, <-slowDone, context.Canceled)
}

func TestClient_HonoursDeadline(t *testing.T) {
	_, client := startServer(t, newRegistry(t, blockingTool("slow")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Execute(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_MissingSocket(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor unavailable at")
}

func TestServer_Lifecycle(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	// stale socket left behind by a crashed daemon
	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	stale.SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())

	srv := NewServer(path, newRegistry(t))
	assert.ErrorIs(t, srv.Serve(context.Background()), ErrNotListening)
	require.NoError(t, srv.Listen())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), fi.Mode().Perm())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	require.NoError(t, NewClient(path).Ping(context.Background()))
	require.NoError(t, srv.Close())
	require.NoError(t, <-done)

	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestServer_CloseDuringTraffic(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, newRegistry(t), func(o *Options) { o.Workers = 4 })
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	client := NewClient(path, func(o *ClientOptions) { o.Timeout = time.Second })
	stop := make(chan struct{})
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		pings int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if client.Ping(context.Background()) == nil {
					mu.Lock()
					pings++
					mu.Unlock()
				}
			}
		}()
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pings > 10
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, srv.Close())
	require.NoError(t, <-done)
	close(stop)
	wg.Wait()

	assert.Error(t, client.Ping(context.Background()))
}

func TestServer_RefusesToReplaceRegularFile(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	err := NewServer(path, newRegistry(t)).Listen()
	assert.ErrorContains(t, err, "not a socket")
}

func TestHandle(t *testing.T) {
	srv := NewServer("", newRegistry(t))

	resp := srv.Handle(context.Background(), Request{Command: CommandExecute, ToolName: builtin.Sum, ToolArgs: map[string]any{"a": 40, "b": 2}})
	assert.True(t, resp.OK())
	assert.JSONEq(t, "42", string(resp.Message))

	resp = srv.Handle(context.Background(), Request{Command: CommandExecute, ToolName: builtin.Sum, ToolArgs: map[string]any{"a": 1}})
	text, _ := resp.Text()
	assert.Equal(t, "InvalidArguments: b: required argument is missing", text)
}

func TestContainerDriverDispatchesToExecutor(t *testing.T) {
	_, client := startServer(t, newRegistry(t))

	d := driver.NewContainer(driver.ContainerRef{Image: "alpine", Name: "exodus-test"}, func(o *driver.ContainerOptions) {
		o.Remote = client
	})

	specs := builtin.Specs()
	sum := specs[1]
	res, err := d.Execute(context.Background(), &sum, core.NewExecutionRequest(builtin.Sum, map[string]any{"a": int64(1), "b": int64(2)}))
	require.NoError(t, err)
	assert.Equal(t, float64(3), res.Payload)
}
