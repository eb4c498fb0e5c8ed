package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/tool"
)

// Remote executes python-kind tools out of process, typically an executor
// daemon reached through *executor.Client.
type Remote interface {
	Execute(ctx context.Context, toolName string, args map[string]any) (any, error)
}

// ContainerOptions configure a Container driver.
type ContainerOptions struct {
	Options
	// Pool defaults to DefaultPool.
	Pool *Pool
	// Remote serves python-kind tools. When nil they fail with an execution
	// failure instead of running on the host.
	Remote Remote
}

// Container executes cli-kind tools inside a long-lived container and
// python-kind tools through Remote. Containers are never removed by the
// driver; see Pool.Remove.
type Container struct {
	ref  ContainerRef
	opts ContainerOptions
}

// NewContainer creates a container driver for ref.
func NewContainer(ref ContainerRef, optFns ...func(o *ContainerOptions)) *Container {
	opts := ContainerOptions{Options: defaultOptions(), Pool: DefaultPool}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.normalize()
	if opts.Pool == nil {
		opts.Pool = DefaultPool
	}
	return &Container{ref: ref, opts: opts}
}

// Ref returns the container this driver targets.
func (c *Container) Ref() ContainerRef { return c.ref }

// Execute implements Driver.
func (c *Container) Execute(ctx context.Context, spec *tool.Spec, req core.ExecutionRequest) (core.ExecutionResult, error) {
	start := time.Now()
	c.opts.Logger.Debug("driver.execute.start", "driver", ModeContainer, "tool", spec.Name, "container", c.ref.Name, "correlation_id", req.ID)

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var (
		payload any
		err     error
	)
	switch spec.Kind {
	case tool.KindCLI:
		payload, err = c.runCommand(callCtx, spec, req.Args)
	case tool.KindPython:
		if c.opts.Remote == nil {
			err = core.NewToolError(core.CodeExecutionFailure, spec.Name, "no executor configured")
			break
		}
		payload, err = c.opts.Remote.Execute(callCtx, spec.Name, req.Args)
	default:
		err = core.NewToolError(core.CodeExecutionFailure, spec.Name, fmt.Sprintf("unsupported tool kind %q", spec.Kind))
	}

	if err != nil {
		if ierr := interrupted(ctx, callCtx, spec.Name, c.opts.Timeout); ierr != nil {
			err = ierr
		} else {
			err = asToolError(spec.Name, err)
		}
	}
	return finish(c.opts.Logger, spec, req, payload, err, start)
}

func (c *Container) runCommand(ctx context.Context, spec *tool.Spec, args map[string]any) (any, error) {
	cmdline, err := buildCommand(spec, args)
	if err != nil {
		return nil, err
	}

	lease, err := c.opts.Pool.Acquire(ctx, c.ref)
	if err != nil {
		return nil, fmt.Errorf("container %s unavailable: %w", c.ref, err)
	}
	defer lease.Release()

	out, err := lease.Exec(ctx, cmdline)
	if err != nil {
		return nil, err
	}
	return processResult(spec.Name, out, c.opts.StderrTail)
}

var _ Driver = (*Container)(nil)
