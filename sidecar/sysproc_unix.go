//go:build !windows && !linux

package sidecar

import (
	"os/exec"
	"syscall"
)

// configureCmd places the backend in its own process group so shutdown can
// signal the whole tree.
func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
