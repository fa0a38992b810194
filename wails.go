package main

import (
	"embed"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"
	"github.com/wailsapp/wails/v2/pkg/options/mac"

	"ChainShell/wailslog"
)

//go:embed all:frontend/dist
var assets embed.FS

//go:embed build/appicon.png
var appIconPNG []byte

// runDesktop runs the Wails event loop until the window is closed.
func runDesktop(app *DesktopApp) error {
	return wails.Run(&options.App{
		Title:     AppTitle,
		Width:     app.cfg.WindowWidth,
		Height:    app.cfg.WindowHeight,
		MinWidth:  640,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		// Wails exits the process straight after a fatal log line, skipping
		// run's defers, so the backend is stopped from the logger itself.
		Logger: wailslog.New(Log, app.stopBackend),

		OnStartup:  app.startup,
		OnDomReady: app.onDomReady,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
		Mac: &mac.Options{
			About: &mac.AboutInfo{
				Title:   AppTitle,
				Message: "Version " + AppVersion,
				Icon:    appIconPNG,
			},
		},
		Linux: &linux.Options{
			Icon: appIconPNG,
		},
	})
}
