// Package logging provides structured logging for camrig capture sessions.
// It wraps Go's log/slog package to provide JSON-formatted logs with
// context propagation (session, device, operation).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the name of the log file created inside the log directory.
const LogFileName = "camrig.log"

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	// out is shared by every child logger; nil when logging to stderr or a
	// caller-supplied writer.
	out *RotatingWriter
}

// NewLogger creates a Logger writing JSON lines to {logDir}/camrig.log with
// the default rotation. If logDir is empty, logs are written to stderr.
//
// The level parameter controls which messages are logged:
//   - DEBUG: All messages, including per-device confirmations
//   - INFO: Transitions and spawns
//   - WARN: Non-fatal failures (device setup, finalize)
//   - ERROR: Failed operations
func NewLogger(logDir string, level string) (*Logger, error) {
	return NewRotatingLogger(logDir, level, DefaultRotationConfig())
}

// NewRotatingLogger is NewLogger with explicit rotation settings.
func NewRotatingLogger(logDir string, level string, rotation RotationConfig) (*Logger, error) {
	if logDir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}
	rw, err := NewRotatingWriter(filepath.Join(logDir, LogFileName), rotation)
	if err != nil {
		return nil, err
	}
	l := NewWriterLogger(rw, level)
	l.out = rw
	return l, nil
}

// NewWriterLogger creates a Logger that writes JSON lines to w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return &Logger{logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(ParseLevel(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithSession returns a child Logger tagging every entry with session_id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.child(slog.String("session_id", sessionID))
}

// WithDevice returns a child Logger tagging every entry with the device name
// (C1, C2, ...).
func (l *Logger) WithDevice(device string) *Logger {
	return l.child(slog.String("device", device))
}

// WithOperation returns a child Logger tagging every entry with the capture
// operation in progress: "configure", "load", "toggle", "kill", "save".
func (l *Logger) WithOperation(op string) *Logger {
	return l.child(slog.String("operation", op))
}

// With returns a child Logger with key-value attributes given as
// alternating arguments. Pairs whose key is not a string are dropped.
func (l *Logger) With(args ...any) *Logger {
	var attrs []any
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			attrs = append(attrs, slog.Any(key, args[i+1]))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.child(attrs...)
}

func (l *Logger) child(attrs ...any) *Logger {
	return &Logger{logger: l.logger.With(attrs...), out: l.out}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

// Close flushes and closes the log file. It closes the file for every child
// logger too. For stderr or a caller-supplied writer it is a no-op.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.DiscardHandler)}
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}
