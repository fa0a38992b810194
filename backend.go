package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gen2brain/beeep"

	"ChainShell/config"
	"ChainShell/journal"
	"ChainShell/sidecar"
)

// healthTimeout bounds how long the host waits for the backend to report
// healthy after launch.
const healthTimeout = 60 * time.Second

// BackendInfo is the backend status as shown to the frontend.
type BackendInfo struct {
	State     string `json:"state"`
	Path      string `json:"path"`
	PID       int    `json:"pid"`
	ExitCode  int    `json:"exitCode"`
	Forced    bool   `json:"forced"`
	Healthy   bool   `json:"healthy"`
	StartedAt string `json:"startedAt,omitempty"`
	ExitedAt  string `json:"exitedAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// newSupervisor builds the backend supervisor from config. Backend output
// goes to out.
func newSupervisor(cfg *config.AppConfig, out io.Writer, onExit func(*sidecar.UnexpectedExitError)) *sidecar.Supervisor {
	opts := []sidecar.Option{
		sidecar.WithLogger(Log.With("component", "sidecar")),
		sidecar.WithOutput(out, out),
		sidecar.WithGracePeriod(cfg.Backend.GracePeriod()),
		sidecar.WithUnexpectedExitHandler(onExit),
	}
	if cfg.Backend.WorkDir != "" {
		opts = append(opts, sidecar.WithWorkDir(cfg.Backend.WorkDir))
	}
	if len(cfg.Backend.Env) > 0 {
		opts = append(opts, sidecar.WithEnv(cfg.Backend.Env...))
	}
	if cfg.Backend.CleanEnv {
		opts = append(opts, sidecar.WithCleanEnv())
	}
	return sidecar.New(opts...)
}

// launchBackend starts the backend and records the attempt in the journal.
func (a *DesktopApp) launchBackend() error {
	proc, err := a.sup.Start(a.cfg.Backend.Path)
	if err != nil {
		a.mu.Lock()
		a.launchErr = err
		a.mu.Unlock()

		path := a.cfg.Backend.Path
		var launchErr *sidecar.LaunchError
		if errors.As(err, &launchErr) {
			path = launchErr.Path
		}
		if a.journal != nil {
			if _, jerr := a.journal.LaunchFailed(path, err, time.Now()); jerr != nil {
				Log.Error("journal launch failure", "error", jerr)
			}
		}
		return err
	}

	a.mu.Lock()
	a.runID = proc.ID
	a.mu.Unlock()

	if a.journal != nil {
		if _, err := a.journal.Begin(proc.ID, proc.Path, proc.PID(), proc.Started); err != nil {
			Log.Error("journal run start", "run", proc.ID, "error", err)
		}
	}
	return nil
}

// stopBackend terminates the backend. Every host exit path calls it; only
// the first call signals anything.
func (a *DesktopApp) stopBackend() {
	wait := a.cfg.Backend.GracePeriod() + sidecar.DefaultKillWait + time.Second
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	res, err := a.sup.Shutdown(ctx)
	if err != nil {
		Log.Error("backend shutdown failed", "error", err)
		return
	}
	if res.NotStarted || res.AlreadyExited {
		return
	}

	outcome := journal.OutcomeTerminated
	if res.Forced {
		outcome = journal.OutcomeForced
	}
	a.finishRun(outcome, res.ExitCode, "")
}

// finishRun records how the current run ended. Only the first call counts.
func (a *DesktopApp) finishRun(outcome journal.Outcome, exitCode int, detail string) {
	a.finishOnce.Do(func() {
		a.mu.Lock()
		id := a.runID
		a.mu.Unlock()

		if a.journal == nil || id == "" {
			return
		}
		if err := a.journal.Finish(id, outcome, exitCode, detail, time.Now()); err != nil {
			Log.Error("journal run end", "run", id, "error", err)
		}
	})
}

// onBackendExit runs on the supervisor's watcher goroutine when the backend
// dies without being asked to.
func (a *DesktopApp) onBackendExit(e *sidecar.UnexpectedExitError) {
	a.healthy.Store(false)
	a.finishRun(journal.OutcomeUnexpectedExit, e.ExitCode, e.Error())

	if err := beeep.Notify(AppTitle, "The backend stopped unexpectedly.", ""); err != nil {
		Log.Debug("notify failed", "error", err)
	}

	a.mu.Lock()
	ctx := a.ctx
	if ctx == nil {
		// startup picks this up once the window exists.
		a.pendingExit = e
	}
	a.mu.Unlock()
	if ctx == nil {
		return
	}

	a.emit(EventBackendExited, a.BackendStatus())
	a.promptQuit(e)
}

// promptQuit asks whether to quit after the backend died.
func (a *DesktopApp) promptQuit(e *sidecar.UnexpectedExitError) {
	if a.cfg.QuitOnBackendExit {
		a.quit()
		return
	}

	ctx := a.context()
	answer, err := messageDialog(ctx, "Backend stopped",
		fmt.Sprintf("%s\n\nThe application cannot work without it. Quit %s now?", e.Error(), AppTitle))
	if err != nil {
		Log.Error("failed to show backend exit dialog", "error", err)
		return
	}
	if answer == "Yes" {
		a.quit()
	}
}

// watchHealth waits for the backend's health endpoint and tells the
// frontend when it is ready.
func (a *DesktopApp) watchHealth(ctx context.Context) {
	url := a.cfg.Backend.HealthURL
	if url == "" || a.sup.Process() == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := a.sup.WaitHealthy(ctx, url, 0); err != nil {
		Log.Warn("backend did not become healthy", "url", url, "error", err)
		return
	}
	a.healthy.Store(true)
	a.emit(EventBackendReady, a.BackendStatus())
}

// reportLaunchFailure tells the user the backend could not be started.
func reportLaunchFailure(err error) {
	Log.Error("backend launch failed", "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", AppTitle, err)
	if aerr := beeep.Alert(AppTitle, "Could not start the backend: "+err.Error(), ""); aerr != nil {
		Log.Debug("alert failed", "error", aerr)
	}
}

func backendInfo(st sidecar.Status, healthy bool) BackendInfo {
	info := BackendInfo{
		State:    st.State.String(),
		Path:     st.Path,
		PID:      st.PID,
		ExitCode: st.ExitCode,
		Forced:   st.Forced,
		Healthy:  healthy && st.State == sidecar.Running,
	}
	if !st.StartedAt.IsZero() {
		info.StartedAt = st.StartedAt.Format(time.RFC3339)
	}
	if !st.ExitedAt.IsZero() {
		info.ExitedAt = st.ExitedAt.Format(time.RFC3339)
	}
	if st.Err != nil {
		info.Error = st.Err.Error()
	}
	return info
}
