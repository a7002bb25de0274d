// Package core holds the interfaces shared by every authwatch package.
package core

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is the logging contract collaborator packages accept. Any
// leveled logger can satisfy it with a thin adapter.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// LogLevel orders message severities. A DefaultLogger emits messages
// at or above its configured level; LogLevelSilent suppresses all.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelSilent
)

func (lv LogLevel) tag() string {
	switch lv {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// DefaultLogger writes leveled, prefixed lines through the standard
// library logger. Safe for concurrent use.
type DefaultLogger struct {
	level  LogLevel
	prefix string
	out    *log.Logger
}

// NewDefaultLogger creates a logger writing to stderr. The prefix
// names the component ("authwatch", "dispatch") and may be empty.
func NewDefaultLogger(prefix string, level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		prefix: prefix,
		out:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetOutput redirects log output, mainly for tests.
func (l *DefaultLogger) SetOutput(w io.Writer) { l.out.SetOutput(w) }

// SetLevel changes the minimum emitted level.
func (l *DefaultLogger) SetLevel(level LogLevel) { l.level = level }

func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	l.emit(LogLevelDebug, format, args...)
}

func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.emit(LogLevelInfo, format, args...)
}

func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	l.emit(LogLevelWarn, format, args...)
}

func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.emit(LogLevelError, format, args...)
}

func (l *DefaultLogger) emit(lv LogLevel, format string, args ...interface{}) {
	if lv < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		l.out.Printf("[%s] [%s] %s", l.prefix, lv.tag(), msg)
		return
	}
	l.out.Printf("[%s] %s", lv.tag(), msg)
}

// NopLogger discards everything. The default for packages that were
// not handed a logger.
type NopLogger struct{}

// NewNopLogger creates a discarding logger.
func NewNopLogger() *NopLogger { return &NopLogger{} }

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}

var (
	_ Logger = (*DefaultLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)
