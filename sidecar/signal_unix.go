//go:build !windows

package sidecar

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func isExecutable(info os.FileInfo) bool {
	return info.Mode().Perm()&0o111 != 0
}

// terminate sends SIGTERM to the backend's process group.
func terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

// kill sends SIGKILL to the backend's process group.
func kill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := unix.Kill(-p.Pid, sig); err != nil {
		// No group or already reaped; signal the leader directly.
		return p.Signal(sig)
	}
	return nil
}

// attach is a no-op on Unix: the process group and parent-death signal set by
// configureCmd already tie the backend to the host.
func attach(p *os.Process) (release func(), err error) {
	return func() {}, nil
}
