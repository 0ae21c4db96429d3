// Package logger provides the logging interface for the domain watcher
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with the printf-style helpers used across the application
type Logger struct {
	log *logrus.Logger
}

// New creates a new logger instance configured from DEBUG and LOG_FORMAT
func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lg := &Logger{log: l}
	lg.SetDebug(strings.ToLower(os.Getenv("DEBUG")) == "true")
	return lg
}

// Debugf logs debug messages when debug is enabled
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

// Infof logs informational messages
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

// Warnf logs warning messages
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}

// Errorf logs error messages
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

// Fatalf logs fatal messages and exits the program
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log.Fatalf(format, args...)
}

// WithDomain returns an entry that tags every line with the domain being checked
func (l *Logger) WithDomain(domain string) *logrus.Entry {
	return l.log.WithField("domain", domain)
}

// SetDebug enables or disables debug logging
func (l *Logger) SetDebug(enabled bool) {
	if enabled {
		l.log.SetLevel(logrus.DebugLevel)
	} else {
		l.log.SetLevel(logrus.InfoLevel)
	}
}

// DebugEnabled reports whether debug lines are written
func (l *Logger) DebugEnabled() bool {
	return l.log.IsLevelEnabled(logrus.DebugLevel)
}

// SetOutput redirects all log output
func (l *Logger) SetOutput(w io.Writer) {
	l.log.SetOutput(w)
}
