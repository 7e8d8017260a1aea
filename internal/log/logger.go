// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

var currentLevel atomic.Uint32

// backend is swapped by SetOutput, so it is held behind an atomic pointer;
// workers log concurrently with test setup.
var backend atomic.Pointer[stdlog.Logger]

func init() {
	SetOutput(os.Stderr)
	SetLevel(LevelInfo)
}

// SetOutput redirects all log output. Diagnostics never go to data sinks,
// only to this side channel (stderr by default).
func SetOutput(w io.Writer) {
	backend.Store(stdlog.New(w, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds))
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

// Logger tags every message with a component name, e.g. "[INFO] pipeline: ...".
// The zero value logs without a tag.
type Logger struct {
	component string
}

// New returns a Logger for the named component.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) output(level LogLevel, msg string) {
	if !shouldLog(level) {
		return
	}
	if l != nil && l.component != "" {
		msg = l.component + ": " + msg
	}
	if level == LevelFatal {
		backend.Load().Fatalf("[%s] %s", level, msg)
		return
	}
	backend.Load().Printf("[%s] %s", level, msg)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, v ...any) {
	if shouldLog(LevelDebug) {
		l.output(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, v ...any) {
	if shouldLog(LevelInfo) {
		l.output(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, v ...any) {
	if shouldLog(LevelWarn) {
		l.output(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, v ...any) {
	if shouldLog(LevelError) {
		l.output(LevelError, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func (l *Logger) Fatalf(format string, v ...any) {
	l.output(LevelFatal, fmt.Sprintf(format, v...))
}

// --- Package-level helpers (untagged) ---

var std = &Logger{}

func Debugf(format string, v ...any) { std.Debugf(format, v...) }
func Infof(format string, v ...any)  { std.Infof(format, v...) }
func Warnf(format string, v ...any)  { std.Warnf(format, v...) }
func Errorf(format string, v ...any) { std.Errorf(format, v...) }
func Fatalf(format string, v ...any) { std.Fatalf(format, v...) }
