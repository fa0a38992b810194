package sidecar

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
	"time"
)

// LaunchCause classifies why the backend could not be started.
type LaunchCause int

const (
	CauseUnknown LaunchCause = iota
	CauseNotFound
	CausePermissionDenied
	CauseResources
	CauseInvalid
)

func (c LaunchCause) String() string {
	switch c {
	case CauseNotFound:
		return "not found"
	case CausePermissionDenied:
		return "permission denied"
	case CauseResources:
		return "out of resources"
	case CauseInvalid:
		return "invalid executable"
	default:
		return "unknown"
	}
}

// LaunchError is returned by Start when the backend could not be spawned.
// No OS process exists when a LaunchError is returned.
type LaunchError struct {
	Path  string
	Cause LaunchCause
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch backend %q: %s: %v", e.Path, e.Cause, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ShutdownError is returned by Shutdown when the backend could not be
// confirmed terminated within the bounded wait.
type ShutdownError struct {
	PID    int
	Waited time.Duration
	Err    error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown backend (pid %d) after %s: %v", e.PID, e.Waited.Round(time.Millisecond), e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// UnexpectedExitError reports that the backend terminated before the host
// asked for shutdown.
type UnexpectedExitError struct {
	PID      int
	ExitCode int
	Signaled bool
	Err      error
}

func (e *UnexpectedExitError) Error() string {
	if e.Signaled {
		return fmt.Sprintf("backend (pid %d) killed by signal", e.PID)
	}
	return fmt.Sprintf("backend (pid %d) exited unexpectedly with code %d", e.PID, e.ExitCode)
}

func (e *UnexpectedExitError) Unwrap() error { return e.Err }

// Sentinel errors.
var (
	// ErrAlreadyStarted is returned when Start is called a second time.
	ErrAlreadyStarted = errors.New("backend already started")

	// ErrSupervisorShutdown is returned when Start is called after Shutdown.
	ErrSupervisorShutdown = errors.New("supervisor is shut down")

	// ErrNotRunning is returned by operations that need a running backend.
	ErrNotRunning = errors.New("backend not running")

	// ErrNotConfirmed means the process did not exit after being killed.
	ErrNotConfirmed = errors.New("termination not confirmed")
)

// classifyLaunchError maps an OS spawn error onto a LaunchCause.
func classifyLaunchError(err error) LaunchCause {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, exec.ErrNotFound):
		return CauseNotFound
	case errors.Is(err, fs.ErrPermission):
		return CausePermissionDenied
	case errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.ENOMEM),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE):
		return CauseResources
	case errors.Is(err, syscall.ENOEXEC):
		return CauseInvalid
	default:
		return CauseUnknown
	}
}
