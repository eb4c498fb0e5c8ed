package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/tool"
)

// Server defaults.
const (
	DefaultWorkers     = 16
	DefaultConnTimeout = 2 * time.Minute
	DefaultSocketPath  = "/tmp/exodus/executor.sock"
)

// ErrNotListening is returned by Serve before Listen succeeded.
var ErrNotListening = errors.New("executor: server is not listening")

// Options configure a Server.
type Options struct {
	// Workers bounds concurrently handled connections.
	Workers int
	// ConnTimeout is the read/write deadline of one connection.
	ConnTimeout time.Duration
	// Driver executes tools. Defaults to a local driver.
	Driver driver.Driver
	Logger logging.Logger
}

// Server is the executor daemon: one request and one response per
// connection on a Unix socket. The registry must be fully populated before
// Serve is called.
type Server struct {
	path     string
	registry *tool.Registry
	opts     Options
	sem      *semaphore.Weighted

	mu        sync.Mutex
	ln        net.Listener
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewServer creates a server for the socket at path.
func NewServer(path string, registry *tool.Registry, optFns ...func(o *Options)) *Server {
	opts := Options{
		Workers:     DefaultWorkers,
		ConnTimeout: DefaultConnTimeout,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ConnTimeout <= 0 {
		opts.ConnTimeout = DefaultConnTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Driver == nil {
		opts.Driver = driver.NewLocal(func(o *driver.Options) { o.Logger = opts.Logger })
	}
	if path == "" {
		path = DefaultSocketPath
	}

	return &Server{
		path:     path,
		registry: registry,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		closed:   make(chan struct{}),
	}
}

// Addr returns the socket path.
func (s *Server) Addr() string { return s.path }

// Listen binds the socket. A stale socket file is removed first, the parent
// directory is created and the socket is made world-accessible.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("executor: create socket dir: %w", err)
	}
	if err := removeStale(s.path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("executor: listen %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o666); err != nil {
		_ = ln.Close()
		return fmt.Errorf("executor: chmod %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.opts.Logger.Info("executor.server.listening", "socket", s.path, "workers", s.opts.Workers, "tools", s.registry.Len())
	return nil
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("executor: stat %s: %w", path, err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("executor: %s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("executor: remove stale socket: %w", err)
	}
	return nil
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Close is called. It
// returns nil on orderly shutdown, after in-flight handlers finished.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.opts.Logger.Info("executor.server.stopped", "socket", s.path)
				return nil
			}
			s.opts.Logger.Error("executor.server.accept_failed", "error", err.Error())
			return fmt.Errorf("executor: accept: %w", err)
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			_ = conn.Close()
			return nil
		}

		if !s.track() {
			s.sem.Release(1)
			_ = conn.Close()
			s.opts.Logger.Info("executor.server.stopped", "socket", s.path)
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting, waits for in-flight handlers and removes the
// socket file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		ln := s.ln
		s.mu.Unlock()

		if ln != nil {
			if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
		s.wg.Wait()

		if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
			err = rerr
		}
	})
	return err
}

// track registers one more in-flight handler unless Close has begun. The
// check and the Add share s.mu with Close, so no handler is added after
// Close started waiting.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.opts.ConnTimeout))

	var req Request
	if err := Decode(bufio.NewReader(conn), &req); err != nil {
		if errors.Is(err, io.EOF) {
			s.opts.Logger.Debug("executor.request.empty")
			return
		}
		s.opts.Logger.Warn("executor.request.decode_failed", "error", err.Error())
		return
	}
	if req.ID == "" {
		req.ID = core.NewID()
	}

	start := time.Now()
	resp := s.Handle(ctx, req)

	if err := Encode(conn, resp); err != nil {
		s.opts.Logger.Warn("executor.response.write_failed", "correlation_id", req.ID, "error", err.Error())
		return
	}
	s.opts.Logger.Debug("executor.request.handled",
		"correlation_id", req.ID,
		"command", req.Command,
		"tool", req.ToolName,
		"status", resp.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Handle answers one decoded request. It never fails; every problem is
// reported as an error response.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	switch req.Command {
	case CommandPing:
		return success("pong")
	case CommandListTools:
		specs := s.registry.List()
		infos := make([]ToolInfo, 0, len(specs))
		for _, spec := range specs {
			infos = append(infos, toolInfo(*spec))
		}
		return success(infos)
	case CommandExecute:
		return s.execute(ctx, req)
	default:
		return failure(fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (s *Server) execute(ctx context.Context, req Request) Response {
	if req.ToolName == "" {
		return failure(core.NewToolError(core.CodeInvalidArguments, "", "tool_name is required").Error())
	}

	spec, args, err := s.registry.Validate(req.ToolName, req.ToolArgs)
	if err != nil {
		s.opts.Logger.Info("executor.execute.rejected", "correlation_id", req.ID, "tool", req.ToolName, "error", err.Error())
		return failure(errorText(err))
	}

	res, err := s.opts.Driver.Execute(ctx, spec, core.ExecutionRequest{ID: req.ID, ToolName: req.ToolName, Args: args})
	if err != nil {
		return failure(errorText(err))
	}
	return success(res.Payload)
}

func errorText(err error) string {
	var te *core.ToolError
	if errors.As(err, &te) {
		return te.Error()
	}
	return fmt.Sprintf("%s: %v", core.CodeOf(err), err)
}
