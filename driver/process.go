package driver

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ProcessOutput is what a finished process left behind.
type ProcessOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// waitDelay bounds how long Wait blocks on pipes held open by orphaned
// grandchildren after the process itself was killed.
const waitDelay = 500 * time.Millisecond

// runProcess executes name with args. A process that ran to completion
// yields a nil error whatever its exit code; the error is non-nil only when
// the process could not be started or was killed.
func runProcess(ctx context.Context, name string, args ...string) (ProcessOutput, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := ProcessOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}

	out.ExitCode = -1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		out.ExitCode = 127
	}
	return out, err
}

// tail returns the last n bytes of b as a string.
func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
