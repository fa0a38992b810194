package sidecar

import (
	"fmt"
	"time"
)

// State is the launch state of the backend process.
type State int

const (
	// NotStarted means Start has not been called yet.
	NotStarted State = iota
	// Running means the backend was spawned and has not exited.
	Running
	// Exited means the backend terminated on its own.
	Exited
	// FailedToStart means the spawn failed. Terminal.
	FailedToStart
	// Terminated means the supervisor stopped the backend during shutdown.
	Terminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case FailedToStart:
		return "failed_to_start"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State     State
	Path      string
	PID       int
	ExitCode  int  // -1 until the process has exited
	Forced    bool // true if shutdown had to kill the process
	StartedAt time.Time
	ExitedAt  time.Time
	Err       error // launch error or exit error
}
