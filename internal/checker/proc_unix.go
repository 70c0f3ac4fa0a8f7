//go:build !windows

package checker

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcess puts the checker in its own process group so a timeout
// kills everything it spawned, not just the shell.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
}
