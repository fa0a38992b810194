//go:build windows

package main

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

var errAlreadyRunning = errors.New("another instance is running")

var (
	procSetForegroundWindow = user32dll.NewProc("SetForegroundWindow")
	procShowWindow          = user32dll.NewProc("ShowWindow")
)

// acquireInstanceLock creates a named mutex so only one host (and so one
// backend) runs per session. The returned func releases it.
func acquireInstanceLock() (func(), error) {
	name, err := windows.UTF16PtrFromString("Local\\ChainShell_SingleInstance")
	if err != nil {
		return nil, err
	}

	handle, err := windows.CreateMutex(nil, false, name)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			windows.CloseHandle(handle)
		}
		return nil, errAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("create mutex: %w", err)
	}

	return func() {
		windows.CloseHandle(handle)
	}, nil
}

func bringExistingWindowToFront() {
	if hwnd := appWindow(); hwnd != 0 {
		const swRestore = 9
		procShowWindow.Call(hwnd, swRestore)
		procSetForegroundWindow.Call(hwnd)
	}
}
