//go:build unix

package driver

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the command in its own process group and
// kills the whole group on cancellation, so `sh -c` children die too.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
