//go:build !windows

package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"ChainShell/config"
)

var errAlreadyRunning = errors.New("another instance is running")

// acquireInstanceLock takes an exclusive lock so only one host (and so one
// backend) runs per user. The returned func releases it.
func acquireInstanceLock() (func(), error) {
	lockPath := config.DataPath("chainshell.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	// The kernel drops the lock if we die, so a stale file never blocks.
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errAlreadyRunning
		}
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	f.Truncate(0)
	fmt.Fprintf(f, "%d", os.Getpid())

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		os.Remove(lockPath)
	}, nil
}

func bringExistingWindowToFront() {}
