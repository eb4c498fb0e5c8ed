package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/tool"
)

// Local executes tools on the host: python-kind handlers in-process and
// cli-kind commands through the shell.
type Local struct {
	opts Options
}

// NewLocal creates a local driver.
func NewLocal(optFns ...func(o *Options)) *Local {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.normalize()
	return &Local{opts: opts}
}

// Execute implements Driver.
func (l *Local) Execute(ctx context.Context, spec *tool.Spec, req core.ExecutionRequest) (core.ExecutionResult, error) {
	start := time.Now()
	l.opts.Logger.Debug("driver.execute.start", "driver", ModeLocal, "tool", spec.Name, "correlation_id", req.ID)

	callCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	var (
		payload any
		err     error
	)
	switch spec.Kind {
	case tool.KindPython:
		payload, err = invokeHandler(callCtx, spec, req.Args)
	case tool.KindCLI:
		payload, err = l.runCommand(callCtx, spec, req.Args)
	default:
		err = core.NewToolError(core.CodeExecutionFailure, spec.Name, fmt.Sprintf("unsupported tool kind %q", spec.Kind))
	}

	if err != nil {
		if ierr := interrupted(ctx, callCtx, spec.Name, l.opts.Timeout); ierr != nil {
			err = ierr
		} else {
			err = asToolError(spec.Name, err)
		}
	}
	return finish(l.opts.Logger, spec, req, payload, err, start)
}

func (l *Local) runCommand(ctx context.Context, spec *tool.Spec, args map[string]any) (any, error) {
	cmdline, err := buildCommand(spec, args)
	if err != nil {
		return nil, err
	}

	out, err := runProcess(ctx, l.opts.Shell, "-c", cmdline)
	if err != nil {
		return nil, err
	}
	return processResult(spec.Name, out, l.opts.StderrTail)
}

// invokeHandler runs a python-kind handler and stops waiting for it once ctx
// is done. A handler that ignores ctx keeps running in the background until
// it returns.
func invokeHandler(ctx context.Context, spec *tool.Spec, args map[string]any) (any, error) {
	type outcome struct {
		payload any
		err     error
	}

	done := make(chan outcome, 1)
	go func() {
		payload, err := tool.Invoke(ctx, spec, args)
		done <- outcome{payload, err}
	}()

	select {
	case o := <-done:
		return o.payload, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func buildCommand(spec *tool.Spec, args map[string]any) (string, error) {
	if spec.Command == nil {
		return "", core.NewToolError(core.CodeExecutionFailure, spec.Name, "tool has no command builder")
	}
	cmdline, err := spec.Command(args)
	if err != nil {
		return "", core.NewToolError(core.CodeExecutionFailure, spec.Name, fmt.Sprintf("build command: %v", err)).WithCause(err)
	}
	return cmdline, nil
}

var _ Driver = (*Local)(nil)
