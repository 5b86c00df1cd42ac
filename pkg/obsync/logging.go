package obsync

import (
	"os"

	"github.com/rs/zerolog"
)

// LogLevel defines the severity threshold for the default logger.
type LogLevel int

const (
	// LogLevelDebug enables all log messages
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables informational messages and above
	LogLevelInfo

	// LogLevelWarn enables warning messages and above
	LogLevelWarn

	// LogLevelError enables only error messages
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging interface the coordination layer writes to.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field is a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F is a convenience constructor for a logging field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ZerologLogger implements Logger on top of a zerolog.Logger.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewDefaultLogger creates a zerolog-backed logger writing to stderr at the
// given level.
func NewDefaultLogger(level LogLevel) *ZerologLogger {
	logger := zerolog.New(os.Stderr).
		Level(zerologLevel(level)).
		With().Timestamp().Str("component", "obsync").
		Logger()
	return &ZerologLogger{logger: logger}
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelNone:
		return zerolog.Disabled
	default:
		return zerolog.WarnLevel
	}
}

// Debug logs a debug message.
func (zl *ZerologLogger) Debug(msg string, fields ...Field) {
	zl.emit(zl.logger.Debug(), msg, fields)
}

// Info logs an info message.
func (zl *ZerologLogger) Info(msg string, fields ...Field) {
	zl.emit(zl.logger.Info(), msg, fields)
}

// Warn logs a warning message.
func (zl *ZerologLogger) Warn(msg string, fields ...Field) {
	zl.emit(zl.logger.Warn(), msg, fields)
}

// Error logs an error message.
func (zl *ZerologLogger) Error(msg string, fields ...Field) {
	zl.emit(zl.logger.Error(), msg, fields)
}

// With returns a logger carrying additional fields on every message.
func (zl *ZerologLogger) With(fields ...Field) Logger {
	ctx := zl.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &ZerologLogger{logger: ctx.Logger()}
}

func (zl *ZerologLogger) emit(ev *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

// NoOpLogger discards all messages.
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that discards everything.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (nol *NoOpLogger) Debug(string, ...Field) {}
func (nol *NoOpLogger) Info(string, ...Field)  {}
func (nol *NoOpLogger) Warn(string, ...Field)  {}
func (nol *NoOpLogger) Error(string, ...Field) {}
func (nol *NoOpLogger) With(...Field) Logger   { return nol }
