// Package logx provides structured logging for the geotrack daemon
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides structured JSON logging on top of logrus
type Logger struct {
	level     LogLevel
	component string
	entry     *logrus.Entry
}

// New creates a new structured logger writing JSON to stdout
func New(levelStr string) *Logger {
	return NewWithOutput(levelStr, os.Stdout)
}

// NewWithOutput creates a logger that writes to w
func NewWithOutput(levelStr string, w io.Writer) *Logger {
	level := parseLevel(levelStr)

	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(toLogrus(level))
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "msg",
		},
	})

	return &Logger{
		level: level,
		entry: logrus.NewEntry(base),
	}
}

// With returns a child logger tagged with a component name
func (l *Logger) With(component string) *Logger {
	return &Logger{
		level:     l.level,
		component: component,
		entry:     l.entry.WithField("component", component),
	}
}

// parseLevel converts string to LogLevel
func parseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug", "trace":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func toLogrus(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// levelString converts LogLevel to string
func levelString(level LogLevel) string {
	switch level {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// Level returns the configured level name
func (l *Logger) Level() string {
	return levelString(l.level)
}

// fields turns alternating key/value pairs into logrus fields.
// A trailing key without value is kept under "_extra".
func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			f["_extra"] = key
			break
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			f[key] = err.Error()
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Info(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Warn(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Error(msg)
}

// LogStateChange records a transition of a component's state machine
func (l *Logger) LogStateChange(component, from, to, reason string, extra map[string]interface{}) {
	f := logrus.Fields{
		"component": component,
		"from":      from,
		"to":        to,
		"reason":    reason,
	}
	for k, v := range extra {
		f[k] = v
	}
	l.entry.WithFields(f).Info("state_change")
}

// LogVerbose logs a named event at debug level
func (l *Logger) LogVerbose(event string, extra map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(extra)).Debug(event)
}
