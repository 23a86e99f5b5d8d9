// Package logging provides the structured logger used throughout this
// module, satisfying the Logger{debug,info,warn,error,critical,exception}
// collaborator interface the connection core is specified against.
//
// Modeled field-for-field on the teacher's crypto.LoggerHelper: the same
// WithField/WithFields/WithError chaining, the same truncated-preview
// approach to logging sensitive byte slices without exposing them in
// full.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger is a per-component structured logger built on logrus.
type Logger struct {
	component string
	fields    logrus.Fields
}

// New creates a Logger scoped to component, typically a package or
// subsystem name ("seclink", "handshake").
func New(component string) *Logger {
	return &Logger{
		component: component,
		fields:    logrus.Fields{"component": component},
	}
}

// WithField returns a derived Logger carrying an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(logrus.Fields{key: value})
}

// WithFields returns a derived Logger carrying additional fields.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{component: l.component, fields: merged}
}

// WithError returns a derived Logger carrying error context.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// Debug logs a debug-level message, used for handshake phase tracing.
func (l *Logger) Debug(msg string) { logrus.WithFields(l.fields).Debug(msg) }

// Info logs an info-level message.
func (l *Logger) Info(msg string) { logrus.WithFields(l.fields).Info(msg) }

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) { logrus.WithFields(l.fields).Warn(msg) }

// Error logs an error-level message.
func (l *Logger) Error(msg string) { logrus.WithFields(l.fields).Error(msg) }

// Critical logs at logrus's highest non-fatal level, used for the Fatal
// band (the connection is being torn down, but the process is not).
func (l *Logger) Critical(msg string) { logrus.WithFields(l.fields).Error("critical: " + msg) }

// Exception logs an error alongside the error value that triggered it.
func (l *Logger) Exception(msg string, err error) {
	l.WithError(err).Error(msg)
}

// KeyPreview renders a truncated hex preview of sensitive byte material
// safe to put in logs, mirroring SecureFieldHash from the crypto package.
func KeyPreview(data []byte) string {
	if len(data) == 0 {
		return "nil"
	}
	n := 8
	if len(data) < n {
		n = len(data)
	}
	preview := fmt.Sprintf("%x", data[:n])
	if len(data) > n {
		preview += "..."
	}
	return preview
}
