package procattr

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// KillGroup sends SIGKILL to every process in p's group. A group that is
// already gone is not an error.
func KillGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// Bind starts cmd in its own group and makes context cancellation kill the
// whole group. Wait gives up on inherited pipes waitDelay after that.
func Bind(cmd *exec.Cmd, waitDelay time.Duration) {
	Set(cmd)
	cmd.Cancel = func() error { return KillGroup(cmd.Process) }
	cmd.WaitDelay = waitDelay
}
