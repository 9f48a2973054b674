//go:build linux

// Package procattr starts helper processes (the claude CLI, cloudflared) in
// their own process group so the whole tree can be stopped at once.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set puts cmd in a new process group. On Linux the child also gets SIGKILL
// if slidechat dies first.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
