package piramid

import (
	"log/slog"

	"github.com/piramidhq/piramid/collection"
)

// Logger is the structured logger shared by the registry and every
// collection. It wraps slog.Logger with per-operation helpers
// (LogInsert, LogBatchInsert, LogUpdate, LogDelete, LogSearch,
// LogCheckpoint, LogRecovery); the engine routes its operation events
// through those, so pipelines see one stable event vocabulary.
//
// The concrete type lives in the collection package, where the operations
// are performed; this alias keeps the public constructor surface at the
// root.
type Logger = collection.Logger

// NewLogger creates a Logger with the given handler. A nil handler uses a
// text handler to stderr at Info level.
func NewLogger(handler slog.Handler) *Logger {
	return collection.NewLogger(handler)
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return collection.NewJSONLogger(level)
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return collection.NewTextLogger(level)
}

// NoopLogger creates a Logger that discards everything.
func NoopLogger() *Logger {
	return collection.NoopLogger()
}
