package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l LogLevel) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// DefaultLogger is a leveled logger backed by charmbracelet/log.
// Fields are rendered as structured key/value pairs after the message.
type DefaultLogger struct {
	logger *log.Logger
}

// NewDefaultLogger creates a new DefaultLogger. A nil output writes to stderr.
func NewDefaultLogger(level LogLevel, output io.Writer) *DefaultLogger {
	if output == nil {
		output = os.Stderr
	}
	return &DefaultLogger{
		logger: log.NewWithOptions(output, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.000",
			Level:           level.charm(),
		}),
	}
}

// SetLevel changes the threshold of l and every logger derived from it.
func (l *DefaultLogger) SetLevel(level LogLevel) { l.logger.SetLevel(level.charm()) }

// Messages are printf formats; args are applied only when present so a
// literal '%' in a bare message survives.
func (l *DefaultLogger) Debug(msg string, args ...interface{}) { l.logger.Debug(format(msg, args)) }
func (l *DefaultLogger) Info(msg string, args ...interface{})  { l.logger.Info(format(msg, args)) }
func (l *DefaultLogger) Warn(msg string, args ...interface{})  { l.logger.Warn(format(msg, args)) }
func (l *DefaultLogger) Error(msg string, args ...interface{}) { l.logger.Error(format(msg, args)) }

// WithField creates a new logger with the given field.
func (l *DefaultLogger) WithField(key string, value interface{}) Logger {
	return &DefaultLogger{logger: l.logger.With(key, value)}
}

// WithFields creates a new logger with the given fields.
// Keys are attached in sorted order so output is stable.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return &DefaultLogger{logger: l.logger.With(kv...)}
}

func format(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// ParseLogLevel parses a level name case-insensitively. Unknown names
// yield LevelInfo.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var globalLogger Logger = NewDefaultLogger(LevelInfo, os.Stderr)

// SetGlobalLogger sets the logger LoggerFromContext falls back to.
func SetGlobalLogger(logger Logger) {
	globalLogger = logger
}

// GetGlobalLogger returns the global logger.
func GetGlobalLogger() Logger {
	return globalLogger
}

type loggerKey struct{}

// ContextWithLogger attaches l to ctx.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the logger attached to ctx, or fallback when there is
// none. A nil fallback selects the global logger.
func LoggerFromContext(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return globalLogger
}

// NullLogger discards everything. Tests use it to keep output quiet.
type NullLogger struct{}

func (l *NullLogger) Debug(string, ...interface{}) {}
func (l *NullLogger) Info(string, ...interface{})  {}
func (l *NullLogger) Warn(string, ...interface{})  {}
func (l *NullLogger) Error(string, ...interface{}) {}

func (l *NullLogger) WithField(string, interface{}) Logger     { return l }
func (l *NullLogger) WithFields(map[string]interface{}) Logger { return l }
