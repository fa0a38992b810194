package main

import (
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Event name constants for Wails runtime events
const (
	EventBackendReady        = "backend-ready"
	EventBackendExited       = "backend-exited"
	EventBackendLaunchFailed = "backend-launch-failed"
)

// emit pushes an event to the frontend. Events raised before the Wails
// runtime exists are dropped; the frontend reads BackendStatus on load.
func (a *DesktopApp) emit(name string, data ...interface{}) {
	ctx := a.context()
	if ctx == nil {
		Log.Debug("event dropped before startup", "event", name)
		return
	}
	wailsRuntime.EventsEmit(ctx, name, data...)
}
