package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChainShell/config"
	"ChainShell/journal"
)

// runRetention is how long backend runs are kept in the journal.
const runRetention = 30 * 24 * time.Hour

// Host exit codes.
const (
	exitOK           = 0
	exitShellFailed  = 1
	exitLaunchFailed = 2
)

func main() {
	os.Exit(run())
}

// run starts the backend, runs the desktop shell and returns the process
// exit code. The backend is stopped on every return path.
func run() int {
	cfg := config.Load()

	logFile, err := InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
	} else {
		defer logFile.Close()
	}
	Log.Info("starting", "version", AppVersion, "backend", cfg.Backend.Path)

	unlock, err := acquireInstanceLock()
	if err != nil {
		if errors.Is(err, errAlreadyRunning) {
			fmt.Println(AppTitle + " is already running")
			bringExistingWindowToFront()
			return exitOK
		}
		Log.Error("single instance lock", "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppTitle, err)
		return exitShellFailed
	}
	defer unlock()

	j, err := journal.Open(config.DataPath("runs.db"))
	if err != nil {
		Log.Error("open run journal, history disabled", "error", err)
	} else {
		defer j.Close()
		// We hold the instance lock, so no run can still be live.
		if n, err := j.CloseStale(time.Now()); err != nil {
			Log.Error("close stale backend runs", "error", err)
		} else if n > 0 {
			Log.Info("closed runs left by a previous host", "count", n)
		}
		if n, err := j.Prune(runRetention); err != nil {
			Log.Error("prune run journal", "error", err)
		} else if n > 0 {
			Log.Info("pruned old backend runs", "count", n)
		}
	}

	backendLog := NewBackendLog()
	defer backendLog.Close()

	app := NewDesktopApp(cfg, j)
	app.sup = newSupervisor(cfg, backendLog, app.onBackendExit)
	defer app.stopBackend()

	if err := app.launchBackend(); err != nil {
		reportLaunchFailure(err)
		if cfg.RequireBackend {
			return exitLaunchFailed
		}
	}

	guiDone := make(chan struct{})
	defer close(guiDone)
	go handleSignals(app, guiDone)

	if err := runDesktop(app); err != nil {
		Log.Error("desktop shell failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppTitle, err)
		return exitShellFailed
	}
	return exitOK
}

// handleSignals turns SIGINT/SIGTERM into a normal quit so the backend is
// stopped on the way out.
func handleSignals(app *DesktopApp, done <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		Log.Info("signal received, quitting", "signal", sig.String())
		app.quit()
	case <-done:
	}
}
