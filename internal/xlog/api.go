// Package xlog provides a minimal structured logging facade so the broker
// and transport packages never depend on a specific logging library
// directly.
package xlog

// Fields carries additional contextual information on a log entry.
type Fields = map[string]interface{}

// Level assigns a severity value to a logged message.
type Level uint

const (
	// Debug level messages are broadly interesting to developers and
	// operators; minor, recoverable issues.
	Debug Level = iota

	// Info level messages highlight normal progress of the broker.
	Info

	// Warning level messages flag potentially harmful situations that
	// do not stop routing or delivery.
	Warning

	// Error level messages flag failures that prevented an operation
	// from completing, but the broker keeps running.
	Error
)

// String returns a textual representation of a level value.
func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "invalid-level"
	}
}

// Logger is the minimal interface the broker requires from a logging
// backend. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	// WithFields returns a derived logger that attaches the given fields
	// to every subsequent entry.
	WithFields(fields Fields) Logger

	// WithField is a convenience wrapper around WithFields for a single
	// key/value pair.
	WithField(key string, value interface{}) Logger
}
