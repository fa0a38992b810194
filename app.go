package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/beeep"
	"github.com/ra1phdd/systray-on-wails"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"ChainShell/config"
	"ChainShell/journal"
	"ChainShell/sidecar"
)

// DesktopApp is the Wails application binding struct.
// Methods on this struct are exposed to the frontend via window.go.main.DesktopApp.
type DesktopApp struct {
	cfg     *config.AppConfig
	sup     *sidecar.Supervisor
	journal *journal.Journal

	healthy    atomic.Bool
	finishOnce sync.Once

	mu          sync.Mutex
	ctx         context.Context
	runID       string
	launchErr   error
	pendingExit *sidecar.UnexpectedExitError
	quitPending bool
}

// NewDesktopApp creates a new DesktopApp instance. The journal may be nil.
func NewDesktopApp(cfg *config.AppConfig, j *journal.Journal) *DesktopApp {
	return &DesktopApp{cfg: cfg, journal: j}
}

func (a *DesktopApp) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// startup is called when the Wails app starts.
func (a *DesktopApp) startup(ctx context.Context) {
	Log.Debug("Wails OnStartup")

	a.mu.Lock()
	a.ctx = ctx
	launchErr := a.launchErr
	pending := a.pendingExit
	quit := a.quitPending
	a.pendingExit = nil
	a.mu.Unlock()

	beeep.AppName = AppTitle
	a.initSystray()

	if quit {
		// A signal arrived before the window existed.
		wailsRuntime.Quit(ctx)
		return
	}

	switch {
	case launchErr != nil:
		a.emit(EventBackendLaunchFailed, a.BackendStatus())
		go a.showLaunchError(launchErr)
	case pending != nil:
		a.emit(EventBackendExited, a.BackendStatus())
		go a.promptQuit(pending)
	default:
		go a.watchHealth(ctx)
	}
}

// onDomReady is called when the WebView DOM is fully loaded.
func (a *DesktopApp) onDomReady(ctx context.Context) {
	Log.Debug("Wails OnDomReady", "backend", a.sup.String())
}

// shutdown is called when the Wails app is closing.
func (a *DesktopApp) shutdown(ctx context.Context) {
	// Save window size; environment overrides are not written back.
	w, h := wailsRuntime.WindowGetSize(ctx)
	if w > 0 && h > 0 {
		fileCfg := config.LoadFile(config.FilePath())
		fileCfg.WindowWidth = w
		fileCfg.WindowHeight = h
		if err := config.Save(config.FilePath(), fileCfg); err != nil {
			Log.Error("save config", "error", err)
		}
	}

	a.stopBackend()
	systray.Quit()
}

// quit asks the shell to close. Before startup the request is remembered.
func (a *DesktopApp) quit() {
	a.mu.Lock()
	ctx := a.ctx
	if ctx == nil {
		a.quitPending = true
	}
	a.mu.Unlock()

	if ctx != nil {
		wailsRuntime.Quit(ctx)
	}
}

// showWindow brings the application window to the foreground.
func (a *DesktopApp) showWindow() {
	ctx := a.context()
	wailsRuntime.Show(ctx)
	wailsRuntime.WindowUnminimise(ctx)
}

// toggleWindow shows the window if hidden/minimized, hides it if visible.
func (a *DesktopApp) toggleWindow() {
	visible, minimized := isAppWindowVisible()
	if visible && !minimized {
		wailsRuntime.Hide(a.context())
	} else {
		a.showWindow()
	}
}

// initSystray sets up the system tray icon and menu.
func (a *DesktopApp) initSystray() {
	systray.Register(func() {
		systray.SetIcon(trayIcon())
		systray.SetTooltip(fmt.Sprintf("%s v%s - backend %s", AppTitle, AppVersion, a.sup.Status().State))

		mShow := systray.AddMenuItem("Show window", "Show the "+AppTitle+" window")
		mQuit := systray.AddMenuItem("Quit", "Quit "+AppTitle+" and stop the backend")

		// Double-click toggles the window on Windows.
		subclassSystray(a.toggleWindow)

		go func() {
			for {
				select {
				case <-mShow.ClickedCh:
					a.showWindow()
				case <-mQuit.ClickedCh:
					a.quit()
					return
				}
			}
		}()
	}, nil)
}

func (a *DesktopApp) showLaunchError(err error) {
	_, derr := wailsRuntime.MessageDialog(a.context(), wailsRuntime.MessageDialogOptions{
		Type:    wailsRuntime.ErrorDialog,
		Title:   "Backend unavailable",
		Message: fmt.Sprintf("The backend could not be started:\n\n%v", err),
	})
	if derr != nil {
		Log.Error("failed to show launch error dialog", "error", derr)
	}
}

// messageDialog shows a Yes/No question and returns the chosen button.
func messageDialog(ctx context.Context, title, message string) (string, error) {
	return wailsRuntime.MessageDialog(ctx, wailsRuntime.MessageDialogOptions{
		Type:          wailsRuntime.QuestionDialog,
		Title:         title,
		Message:       message,
		Buttons:       []string{"Yes", "No"},
		DefaultButton: "Yes",
	})
}

// BackendStatus returns the backend's current state.
func (a *DesktopApp) BackendStatus() BackendInfo {
	return backendInfo(a.sup.Status(), a.healthy.Load())
}

// RecentRuns returns the latest backend runs, newest first.
func (a *DesktopApp) RecentRuns(limit int) ([]journal.Run, error) {
	if a.journal == nil {
		return nil, nil
	}
	return a.journal.Recent(limit)
}

// OpenLogDir opens the log directory in the system file explorer.
func (a *DesktopApp) OpenLogDir() error {
	logDir := LogDir()
	os.MkdirAll(logDir, 0755)
	switch goruntime.GOOS {
	case "windows":
		return exec.Command("explorer", logDir).Start()
	case "darwin":
		return exec.Command("open", logDir).Start()
	case "linux":
		return exec.Command("xdg-open", logDir).Start()
	default:
		return fmt.Errorf("unsupported OS: %s", goruntime.GOOS)
	}
}

// SetLogLevel switches the log level ("error", "info" or "debug") and saves
// it to the config file. It returns the level now in effect.
func (a *DesktopApp) SetLogLevel(level string) string {
	SetLogLevel(level)
	applied := GetLogLevel()

	fileCfg := config.LoadFile(config.FilePath())
	fileCfg.LogLevel = applied
	if err := config.Save(config.FilePath(), fileCfg); err != nil {
		Log.Error("save config", "error", err)
	}
	Log.Info("log level changed", "level", applied)
	return applied
}

// GetAppInfo returns application info for the frontend.
func (a *DesktopApp) GetAppInfo() map[string]interface{} {
	return map[string]interface{}{
		"name":     AppTitle,
		"version":  AppVersion,
		"logLevel": GetLogLevel(),
		"logDir":   LogDir(),
		"dataDir":  config.AppDataDir(),
		"backend":  a.cfg.Backend.Path,
	}
}
