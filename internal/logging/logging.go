// Package logging provides structured logging for the strata packages.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("ingestion")
//	log.Info("pipeline started", "resolution", res)
//
//	// Log with context
//	log.Error("flush failed", "error", err, "collection", name)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is the global logger instance.
var Logger *slog.Logger

var initOnce sync.Mutex

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	initOnce.Lock()
	defer initOnce.Unlock()
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a config string (debug, info, warn, error) to a slog level.
// Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ensure() *slog.Logger {
	initOnce.Lock()
	l := Logger
	initOnce.Unlock()
	if l == nil {
		Init(slog.LevelInfo, false)
		return Logger
	}
	return l
}

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	return ensure().With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("accessor")
//	log.Info("cache reloaded") // Output: time=... level=INFO component=accessor msg="cache reloaded"
func Component(name string) *slog.Logger {
	return ensure().With("component", name)
}

// WithContext returns a logger that includes context values.
func WithContext(ctx context.Context) *slog.Logger {
	logger := ensure()

	if collection, ok := ctx.Value(contextKeyCollection).(string); ok {
		logger = logger.With("collection", collection)
	}
	if op, ok := ctx.Value(contextKeyOperation).(string); ok {
		logger = logger.With("op", op)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyCollection contextKey = iota
	contextKeyOperation
)

// ContextWithCollection adds a collection name to the context for logging.
func ContextWithCollection(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKeyCollection, name)
}

// ContextWithOperation adds an operation name to the context for logging.
func ContextWithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, contextKeyOperation, op)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	ensure().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	ensure().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	ensure().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	ensure().Error(msg, args...)
}
