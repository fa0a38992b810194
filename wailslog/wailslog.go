// Package wailslog adapts Wails' logger interface to log/slog.
package wailslog

import (
	"log/slog"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/logger"
)

var _ logger.Logger = (*Logger)(nil)

// Logger forwards Wails' own log lines to a slog.Logger.
type Logger struct {
	log     *slog.Logger
	onFatal func()
	once    sync.Once
}

// New returns a Logger writing to l. onFatal, if set, runs once before a
// fatal message returns: Wails calls os.Exit right after Fatal, so deferred
// cleanup in the caller never runs.
func New(l *slog.Logger, onFatal func()) *Logger {
	return &Logger{log: l.With("wails", true), onFatal: onFatal}
}

func (l *Logger) Print(message string)   { l.log.Info(message) }
func (l *Logger) Trace(message string)   { l.log.Debug(message) }
func (l *Logger) Debug(message string)   { l.log.Debug(message) }
func (l *Logger) Info(message string)    { l.log.Info(message) }
func (l *Logger) Warning(message string) { l.log.Warn(message) }
func (l *Logger) Error(message string)   { l.log.Error(message) }

// Fatal logs at error level and runs the fatal hook.
func (l *Logger) Fatal(message string) {
	l.log.Error(message, "fatal", true)
	if l.onFatal != nil {
		l.once.Do(l.onFatal)
	}
}
