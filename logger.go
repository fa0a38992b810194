package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"ChainShell/config"
)

// Log is the global structured logger instance. It writes to stderr until
// InitLogger runs.
var Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevelVar}))

// logLevelVar allows changing the log level at runtime.
var logLevelVar slog.LevelVar

// InitLogger initializes the global structured logger.
// level: "error" (default), "info", or "debug".
// Returns the log file (caller should defer Close) and any error.
func InitLogger(level string) (io.Closer, error) {
	setLogLevelVar(level)

	// Log file: ~/.chainshell/logs/chainshell.log, rotated by size.
	logDir := LogDir()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	f := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "chainshell.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     30, // days
	}

	Log = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: &logLevelVar}))
	return f, nil
}

// NewBackendLog returns the rotated file that receives the backend's stdout
// and stderr.
func NewBackendLog() io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   filepath.Join(LogDir(), "backend.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
	}
}

// SetLogLevel changes the log level at runtime without restarting.
func SetLogLevel(level string) {
	setLogLevelVar(level)
}

// GetLogLevel returns the current log level as a string.
func GetLogLevel() string {
	return config.LogLevelName(logLevelVar.Level())
}

// LogDir returns the path to the log directory.
func LogDir() string {
	return config.DataPath("logs")
}

func setLogLevelVar(level string) {
	logLevelVar.Set(config.ParseLogLevel(level))
}
