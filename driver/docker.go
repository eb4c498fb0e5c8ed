package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ContainerRef identifies a long-lived tool container.
type ContainerRef struct {
	Image string `json:"image"`
	Name  string `json:"name"`
}

func (r ContainerRef) key() string { return r.Image + "|" + r.Name }

func (r ContainerRef) String() string { return fmt.Sprintf("%s (%s)", r.Name, r.Image) }

// ContainerAction reports what EnsureRunning had to do.
type ContainerAction string

const (
	ActionReused  ContainerAction = "reused"
	ActionStarted ContainerAction = "started"
	ActionCreated ContainerAction = "created"
)

// Runtime is the container lifecycle boundary.
//
// Exec follows the runProcess contract: a command that ran to completion
// yields a nil error whatever its exit code.
type Runtime interface {
	EnsureRunning(ctx context.Context, ref ContainerRef) (ContainerAction, error)
	Exec(ctx context.Context, ref ContainerRef, command string) (ProcessOutput, error)
	Remove(ctx context.Context, ref ContainerRef) error
}

// ErrRuntimeUnavailable is returned when the container CLI cannot be found.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// DockerRuntime drives containers through the docker CLI. Containers are
// started detached with a shell kept alive on a TTY so that subsequent
// `docker exec` calls share their filesystem state.
type DockerRuntime struct {
	// Binary is the docker executable. Defaults to "docker" on PATH.
	Binary string
	// Shell is the in-container shell used for exec. Defaults to "sh".
	Shell string
}

// NewDockerRuntime creates a runtime using the docker CLI on PATH.
func NewDockerRuntime() *DockerRuntime {
	return &DockerRuntime{Binary: "docker", Shell: DefaultShell}
}

func (d *DockerRuntime) binary() (string, error) {
	bin := d.Binary
	if bin == "" {
		bin = "docker"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return path, nil
}

func (d *DockerRuntime) run(ctx context.Context, args ...string) (ProcessOutput, error) {
	bin, err := d.binary()
	if err != nil {
		return ProcessOutput{}, err
	}
	return runProcess(ctx, bin, args...)
}

// state inspects the container; exists is false when docker knows no
// container of that name.
func (d *DockerRuntime) state(ctx context.Context, name string) (exists, running bool, err error) {
	out, err := d.run(ctx, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return false, false, err
	}
	if out.ExitCode != 0 {
		if strings.Contains(strings.ToLower(string(out.Stderr)), "no such") {
			return false, false, nil
		}
		return false, false, fmt.Errorf("docker inspect %s: %s", name, strings.TrimSpace(string(out.Stderr)))
	}
	return true, strings.TrimSpace(string(out.Stdout)) == "true", nil
}

// EnsureRunning implements Runtime: create if absent, start if stopped,
// reuse if running.
func (d *DockerRuntime) EnsureRunning(ctx context.Context, ref ContainerRef) (ContainerAction, error) {
	exists, running, err := d.state(ctx, ref.Name)
	if err != nil {
		return "", err
	}

	switch {
	case running:
		return ActionReused, nil
	case exists:
		out, err := d.run(ctx, "start", ref.Name)
		if err != nil {
			return "", err
		}
		if out.ExitCode != 0 {
			return "", fmt.Errorf("docker start %s: %s", ref.Name, strings.TrimSpace(string(out.Stderr)))
		}
		return ActionStarted, nil
	default:
		out, err := d.run(ctx, "run", "-d", "-t", "-i", "--name", ref.Name, ref.Image, d.shell())
		if err != nil {
			return "", err
		}
		if out.ExitCode != 0 {
			return "", fmt.Errorf("docker run %s: %s", ref, strings.TrimSpace(string(out.Stderr)))
		}
		return ActionCreated, nil
	}
}

// Exec implements Runtime.
func (d *DockerRuntime) Exec(ctx context.Context, ref ContainerRef, command string) (ProcessOutput, error) {
	return d.run(ctx, "exec", ref.Name, d.shell(), "-c", command)
}

// Remove implements Runtime. Removing an absent container is not an error.
func (d *DockerRuntime) Remove(ctx context.Context, ref ContainerRef) error {
	out, err := d.run(ctx, "rm", "-f", ref.Name)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 && !strings.Contains(strings.ToLower(string(out.Stderr)), "no such") {
		return fmt.Errorf("docker rm %s: %s", ref.Name, strings.TrimSpace(string(out.Stderr)))
	}
	return nil
}

func (d *DockerRuntime) shell() string {
	if d.Shell == "" {
		return DefaultShell
	}
	return d.Shell
}

var _ Runtime = (*DockerRuntime)(nil)
