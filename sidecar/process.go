package sidecar

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is the owned handle to the running backend.
//
// Exit information is written once by the watcher goroutine before Done is
// closed; readers that wait on Done see it without further locking.
type Process struct {
	// ID identifies this run of the backend (a UUID).
	ID string

	// Path is the resolved absolute executable path.
	Path string

	// Started is the time the process was spawned.
	Started time.Time

	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.RWMutex
	exitCode int
	exitErr  error
	signaled bool
	exitedAt time.Time
}

func newProcess(id, path string, cmd *exec.Cmd) *Process {
	return &Process{
		ID:       id,
		Path:     path,
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// PID returns the OS process ID, or -1 if the process was never spawned.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// HasExited reports whether the process has exited.
func (p *Process) HasExited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 if the process has not exited or was
// killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Signaled reports whether the process was terminated by a signal.
func (p *Process) Signaled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.signaled
}

// ExitedAt returns when the exit was observed.
func (p *Process) ExitedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitedAt
}

// Runtime returns how long the process ran, or has been running so far.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	if at := p.ExitedAt(); !at.IsZero() {
		return at.Sub(p.Started)
	}
	return time.Since(p.Started)
}

// wait blocks on the OS until the process exits, records the result and
// closes Done. It runs on the watcher goroutine only.
func (p *Process) wait() {
	err := p.cmd.Wait()

	code := 0
	signaled := false
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signaled = true
			}
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	p.exitCode = code
	p.exitErr = err
	p.signaled = signaled
	p.exitedAt = time.Now()
	p.mu.Unlock()

	close(p.done)
}
