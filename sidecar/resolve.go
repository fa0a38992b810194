package sidecar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ExecutableDir returns the directory holding the running host binary,
// with symlinks resolved. Relative backend paths are resolved against it
// rather than the process's current directory.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate host executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// ResolvePath turns path into an absolute executable path and checks that it
// can be launched. Relative paths are joined to baseDir, or to ExecutableDir
// when baseDir is empty. On Windows a missing ".exe" extension is added.
func ResolvePath(path, baseDir string) (string, error) {
	if path == "" {
		return "", &LaunchError{Path: path, Cause: CauseInvalid, Err: errors.New("empty executable path")}
	}

	if runtime.GOOS == "windows" && filepath.Ext(path) == "" {
		path += ".exe"
	}

	resolved := path
	if !filepath.IsAbs(path) {
		if baseDir == "" {
			dir, err := ExecutableDir()
			if err != nil {
				return "", &LaunchError{Path: path, Cause: CauseUnknown, Err: err}
			}
			baseDir = dir
		}
		resolved = filepath.Join(baseDir, path)
	}
	resolved = filepath.Clean(resolved)

	info, err := os.Stat(resolved)
	if err != nil {
		return "", &LaunchError{Path: resolved, Cause: classifyLaunchError(err), Err: err}
	}
	if info.IsDir() {
		return "", &LaunchError{Path: resolved, Cause: CauseInvalid, Err: errors.New("is a directory")}
	}
	if !isExecutable(info) {
		return "", &LaunchError{Path: resolved, Cause: CausePermissionDenied, Err: os.ErrPermission}
	}
	return resolved, nil
}
