//go:build windows

package main

import (
	_ "embed"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

//go:embed build/windows/icon.ico
var trayIconICO []byte

// Windows wants an ICO for the notification area.
func trayIcon() []byte {
	return trayIconICO
}

var (
	user32dll        = windows.NewLazySystemDLL("User32.dll")
	pFindWindowW     = user32dll.NewProc("FindWindowW")
	pIsWindowVisible = user32dll.NewProc("IsWindowVisible")
	pIsIconic        = user32dll.NewProc("IsIconic")
	pCallWindowProcW = user32dll.NewProc("CallWindowProcW")

	// SetWindowLongPtrW is only exported by 64-bit user32.
	pSetWindowLongPtrW = user32dll.NewProc("SetWindowLongPtrW")
	pSetWindowLongW    = user32dll.NewProc("SetWindowLongW")
)

const (
	gwlpWndProc = ^uintptr(3) // GWLP_WNDPROC (-4)

	// systray-on-wails registers its notify icon with WM_USER+1 and passes
	// the mouse message in lParam.
	trayCallbackMsg = 0x0400 + 1
	mouseLeftUp     = 0x0202
	mouseLeftDouble = 0x0203
)

// findWindow wraps FindWindowW. Empty strings match any class or title.
func findWindow(class, title string) uintptr {
	var classPtr, titlePtr *uint16
	if class != "" {
		classPtr, _ = windows.UTF16PtrFromString(class)
	}
	if title != "" {
		titlePtr, _ = windows.UTF16PtrFromString(title)
	}
	hwnd, _, _ := pFindWindowW.Call(uintptr(unsafe.Pointer(classPtr)), uintptr(unsafe.Pointer(titlePtr)))
	return hwnd
}

// appWindow returns the main window handle, or 0 if it does not exist.
func appWindow() uintptr {
	return findWindow("", AppTitle)
}

func setWindowProc(hwnd, proc uintptr) uintptr {
	set := pSetWindowLongW
	if pSetWindowLongPtrW.Find() == nil {
		set = pSetWindowLongPtrW
	}
	prev, _, _ := set.Call(hwnd, gwlpWndProc, proc)
	return prev
}

// trayClicks sits in front of the systray window procedure so a double-click
// on the icon can toggle the window. Only right-click opens the menu.
type trayClicks struct {
	prev          uintptr
	onDoubleClick func()
}

var (
	tray     trayClicks
	trayOnce sync.Once
)

func (t *trayClicks) wndProc(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
	if msg == trayCallbackMsg {
		switch lParam {
		case mouseLeftDouble:
			if t.onDoubleClick != nil {
				go t.onDoubleClick()
			}
			return 0
		case mouseLeftUp:
			return 0
		}
	}
	ret, _, _ := pCallWindowProcW.Call(t.prev, hwnd, uintptr(msg), wParam, lParam)
	return ret
}

// subclassSystray installs the click handler on the hidden "SystrayClass"
// window. It must run from the systray ready callback, once that window
// exists; later calls are no-ops.
func subclassSystray(onDoubleClick func()) {
	trayOnce.Do(func() {
		hwnd := findWindow("SystrayClass", "")
		if hwnd == 0 {
			Log.Warn("systray window not found; double-click disabled")
			return
		}
		tray.onDoubleClick = onDoubleClick
		tray.prev = setWindowProc(hwnd, syscall.NewCallback(tray.wndProc))
	})
}

// isAppWindowVisible reports the real window state, which Wails' runtime
// does not expose.
func isAppWindowVisible() (visible bool, minimized bool) {
	hwnd := appWindow()
	if hwnd == 0 {
		return false, false
	}
	v, _, _ := pIsWindowVisible.Call(hwnd)
	m, _, _ := pIsIconic.Call(hwnd)
	return v != 0, m != 0
}
