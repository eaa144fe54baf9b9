// Package logger provides a thread-safe, levelled logger backed by the
// standard library's log package.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO, WARN and ERROR messages.
	LevelInfo
	// LevelWarn emits WARN and ERROR messages.
	LevelWarn
	// LevelError emits only ERROR messages.
	LevelError
	// LevelOff disables output entirely.
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelOff:
		return "off"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a case-insensitive level name ("debug", "info", "warn",
// "error", "off") into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off", "none":
		return LevelOff, nil
	}
	return LevelInfo, fmt.Errorf("logger: unknown level %q", s)
}

// Logger is a levelled logger.
//
// Thread-safety: log.Logger serialises writes to the underlying io.Writer
// with its own mutex.  The wrapper adds an RWMutex only for the level field
// so that SetLevel may be called concurrently with logging methods.
type Logger struct {
	debugLog *log.Logger
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
	mu       sync.RWMutex
	level    Level
}

// New creates a Logger that writes to stderr at the given minimum level.
func New(level Level) *Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter creates a Logger that writes to w.  Microsecond timestamps
// make it possible to order pool lifecycle events across goroutines.
func NewWithWriter(w io.Writer, level Level) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	return &Logger{
		debugLog: log.New(w, "DEBUG ", flags),
		infoLog:  log.New(w, "INFO  ", flags),
		warnLog:  log.New(w, "WARN  ", flags),
		errorLog: log.New(w, "ERROR ", flags),
		level:    level,
	}
}

// Discard returns a Logger that drops every message.
func Discard() *Logger {
	return NewWithWriter(io.Discard, LevelOff)
}

// SetLevel changes the minimum log level at runtime.  Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	l.mu.RLock()
	lvl := l.level
	l.mu.RUnlock()
	return lvl <= level && lvl != LevelOff
}

func (l *Logger) output(level Level, dst *log.Logger, msg string) {
	if l.Enabled(level) {
		dst.Output(3, msg) //nolint:errcheck
	}
}

// outputf formats only when level is enabled.
func (l *Logger) outputf(level Level, dst *log.Logger, format string, args []interface{}) {
	if l.Enabled(level) {
		dst.Output(3, fmt.Sprintf(format, args...)) //nolint:errcheck
	}
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) { l.output(LevelDebug, l.debugLog, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.outputf(LevelDebug, l.debugLog, format, args)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) { l.output(LevelInfo, l.infoLog, msg) }

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.outputf(LevelInfo, l.infoLog, format, args)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string) { l.output(LevelWarn, l.warnLog, msg) }

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.outputf(LevelWarn, l.warnLog, format, args)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) { l.output(LevelError, l.errorLog, msg) }

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.outputf(LevelError, l.errorLog, format, args)
}
