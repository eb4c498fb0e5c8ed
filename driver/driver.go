// Package driver executes validated tool calls. A Local driver runs tools on
// the host; a Container driver runs them inside a long-lived container
// (cli kind) or forwards them to an executor daemon (python kind).
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/tool"
)

// Driver executes one tool call.
//
// On success the error is nil. On failure the returned result carries the
// error detail and the error is a *core.ToolError matching exactly one
// taxonomy sentinel (ErrTimeout, ErrExecutionFailure, ErrCancelled, ...).
type Driver interface {
	Execute(ctx context.Context, spec *tool.Spec, req core.ExecutionRequest) (core.ExecutionResult, error)
}

// Execution modes understood by New.
const (
	ModeLocal     = "local"
	ModeContainer = "container"

	modeDocker = "docker"
)

// Defaults shared by all drivers.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultStderrTail = 2048
	DefaultShell      = "sh"
)

// Options configure a driver.
type Options struct {
	// Timeout bounds a single call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Shell runs cli-kind commands as `<Shell> -c <command>`.
	Shell string
	// StderrTail is how many trailing stderr bytes are kept on failure.
	StderrTail int
	Logger     logging.Logger
}

func defaultOptions() Options {
	return Options{
		Timeout:    DefaultTimeout,
		Shell:      DefaultShell,
		StderrTail: DefaultStderrTail,
		Logger:     logging.NoOpLogger{},
	}
}

func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Shell == "" {
		o.Shell = DefaultShell
	}
	if o.StderrTail <= 0 {
		o.StderrTail = DefaultStderrTail
	}
	if o.Logger == nil {
		o.Logger = logging.NoOpLogger{}
	}
}

// Config selects and configures a driver for New.
type Config struct {
	Mode      string
	Image     string
	Container string
	// Remote serves python-kind tools in container mode. Usually an
	// *executor.Client.
	Remote Remote
	// Pool defaults to DefaultPool.
	Pool    *Pool
	Options Options
}

// IsContainer reports whether mode selects the container driver.
func IsContainer(mode string) bool {
	switch strings.ToLower(mode) {
	case ModeContainer, modeDocker:
		return true
	}
	return false
}

// New builds the driver named by cfg.Mode. An empty mode means local.
func New(cfg Config) (Driver, error) {
	opt := func(o *Options) { *o = cfg.Options }

	switch strings.ToLower(cfg.Mode) {
	case "", ModeLocal:
		return NewLocal(opt), nil
	case ModeContainer, modeDocker:
		if cfg.Image == "" || cfg.Container == "" {
			return nil, fmt.Errorf("container mode requires an image and a container name")
		}
		return NewContainer(ContainerRef{Image: cfg.Image, Name: cfg.Container}, func(o *ContainerOptions) {
			o.Options = cfg.Options
			o.Remote = cfg.Remote
			if cfg.Pool != nil {
				o.Pool = cfg.Pool
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", cfg.Mode)
	}
}

// interrupted reports why a failed call was cut short, if it was: parent
// cancellation wins over the per-call deadline.
func interrupted(parent, call context.Context, toolName string, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return core.NewToolError(core.CodeCancelled, toolName, "execution cancelled").
			WithCause(core.CancellationError(err))
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return core.NewToolError(core.CodeTimeout, toolName, fmt.Sprintf("execution exceeded %s", timeout)).
			WithCause(call.Err())
	}
	return nil
}

// asToolError keeps taxonomy errors and wraps anything else as an
// ExecutionFailure.
func asToolError(toolName string, err error) error {
	var te *core.ToolError
	if errors.As(err, &te) {
		return err
	}
	return core.NewToolError(core.CodeExecutionFailure, toolName, err.Error()).WithCause(err)
}

// processResult maps the output of a finished command onto a payload or an
// ExecutionFailure.
func processResult(toolName string, out ProcessOutput, stderrTail int) (any, error) {
	if out.ExitCode == 0 {
		return strings.TrimSpace(string(out.Stdout)), nil
	}
	stderr := tail(out.Stderr, stderrTail)
	msg := fmt.Sprintf("command exited with status %d", out.ExitCode)
	if s := strings.TrimSpace(stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	te := core.NewToolError(core.CodeExecutionFailure, toolName, msg)
	te.ExitCode = out.ExitCode
	te.Stderr = stderr
	return nil, te
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// finish builds the result of a call and logs it.
func finish(logger logging.Logger, spec *tool.Spec, req core.ExecutionRequest, payload any, err error, start time.Time) (core.ExecutionResult, error) {
	var res core.ExecutionResult
	if err != nil {
		res = core.FailureResult(req.ID, err)
	} else {
		res = core.SuccessResult(req.ID, payload)
	}
	res.Duration = time.Since(start)

	if err != nil {
		logger.Warn("driver.execute.failed",
			"tool", spec.Name,
			"correlation_id", req.ID,
			"code", res.Error.Code,
			"duration_ms", res.Duration.Milliseconds(),
			"error", err.Error(),
		)
	} else {
		logger.Debug("driver.execute.success",
			"tool", spec.Name,
			"correlation_id", req.ID,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}
	return res, err
}
