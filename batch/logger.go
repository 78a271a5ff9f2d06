package batch

import (
	"context"
	"fmt"
	"log/slog"
)

// LogLevel is the severity of a pipeline log line.
type LogLevel int

const (
	// LogLevelDebug covers worker start and stop.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo covers the configuration summary and shutdown.
	LogLevelInfo
	LogLevelWarn
	// LogLevelError covers worker failures.
	LogLevelError
)

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
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger receives the Assembler's printf-style log lines. Workers log from
// their own goroutines, so implementations must be safe for concurrent use.
type Logger interface {
	Log(level LogLevel, format string, args ...interface{})
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NoOpLogger drops everything. An Assembler built without WithLogger uses it.
type NoOpLogger struct{}

func (*NoOpLogger) Log(LogLevel, string, ...interface{}) {}
func (*NoOpLogger) Debug(string, ...interface{})         {}
func (*NoOpLogger) Info(string, ...interface{})          {}
func (*NoOpLogger) Warn(string, ...interface{})          {}
func (*NoOpLogger) Error(string, ...interface{})         {}

// SlogLogger forwards pipeline logs to a *slog.Logger. Lines below the
// handler's level are not formatted.
type SlogLogger struct {
	Logger *slog.Logger
}

// NewSlogLogger wraps l, or slog.Default() when l is nil.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{Logger: l}
}

// Log implements Logger.
func (s *SlogLogger) Log(level LogLevel, format string, args ...interface{}) {
	ctx := context.Background()
	lvl := level.slogLevel()
	if !s.Logger.Enabled(ctx, lvl) {
		return
	}
	s.Logger.Log(ctx, lvl, fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Debug(format string, args ...interface{}) { s.Log(LogLevelDebug, format, args...) }
func (s *SlogLogger) Info(format string, args ...interface{})  { s.Log(LogLevelInfo, format, args...) }
func (s *SlogLogger) Warn(format string, args ...interface{})  { s.Log(LogLevelWarn, format, args...) }
func (s *SlogLogger) Error(format string, args ...interface{}) { s.Log(LogLevelError, format, args...) }
