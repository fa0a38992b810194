// Package sidecar supervises the desktop shell's backend process.
//
// A Supervisor launches exactly one backend executable, watches for it to
// exit, and terminates it when the host shuts down:
//
//	sup := sidecar.New(sidecar.WithLogger(log))
//	proc, err := sup.Start("./backend")
//	if err != nil {
//	    var le *sidecar.LaunchError
//	    if errors.As(err, &le) { ... le.Path, le.Cause ... }
//	}
//	defer sup.Shutdown(context.Background())
//
// # Lifecycle
//
//	NotStarted -> Running -> Exited | Terminated
//	NotStarted -> FailedToStart
//
// No transition returns to NotStarted. Exited means the backend stopped on
// its own; the unexpected-exit handler is called for it. Terminated means
// Shutdown stopped it.
//
// # Path resolution
//
// Relative paths resolve against the host executable's directory, not the
// current working directory, so the backend is found regardless of how the
// shell was started.
//
// # Shutdown
//
// Shutdown asks the backend's process group to stop (SIGTERM on Unix,
// CTRL_BREAK_EVENT on Windows), waits up to the grace period and then kills
// it. On Linux the backend also receives SIGTERM if the host dies; on Windows
// it is placed in a kill-on-close job object.
package sidecar
