// Package logx provides structured logging for the suggestd daemon
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides structured JSON logging with key-value fields
type Logger struct {
	backend   *logrus.Logger
	component string
}

// NewLogger creates a new structured logger for a component
func NewLogger(levelStr, component string) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stdout)
	backend.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	})
	backend.SetLevel(parseLevel(levelStr))

	return &Logger{
		backend:   backend,
		component: component,
	}
}

// SetOutput redirects log output, used by tests
func (l *Logger) SetOutput(w io.Writer) {
	l.backend.SetOutput(w)
}

// SetLevel changes the minimum level at runtime
func (l *Logger) SetLevel(levelStr string) {
	l.backend.SetLevel(parseLevel(levelStr))
}

// parseLevel converts a level string to a logrus level
func parseLevel(levelStr string) logrus.Level {
	switch strings.ToLower(levelStr) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// fields converts alternating key-value pairs into logrus fields
func (l *Logger) fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	if l.component != "" {
		f["component"] = l.component
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		f[key] = keysAndValues[i+1]
	}
	return f
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Debug(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Info(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Warn(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Error(msg)
}

// Verbose returns true when debug (or finer) logging is enabled
func (l *Logger) Verbose() bool {
	return l.backend.IsLevelEnabled(logrus.DebugLevel)
}
