//go:build linux

package sidecar

import (
	"os/exec"
	"syscall"
)

// configureCmd places the backend in its own process group so shutdown can
// signal the whole tree, and asks the kernel to send SIGTERM if the host dies
// first.
func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
