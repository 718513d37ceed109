package mvstore

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with mvstore-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithTransact adds the per-transaction identifier and stage name to the
// logger. Every transaction-scoped line carries these two fields.
func (l *Logger) WithTransact(id string, stage TransactStage) *Logger {
	return &Logger{
		Logger: l.Logger.With("tx", id, "stage", stage.String()),
	}
}

// WithVersion adds a version field to the logger.
func (l *Logger) WithVersion(v uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("version", v),
	}
}

// LogCommit logs a version publication.
func (l *Logger) LogCommit(id string, version uint64, topRef uint64, err error) {
	if err != nil {
		l.Error("commit failed",
			"tx", id,
			"version", version,
			"error", err,
		)
	} else {
		l.Debug("commit completed",
			"tx", id,
			"version", version,
			"ref", topRef,
		)
	}
}

// LogFlush logs a disk flush performed by the async-commit coordinator.
func (l *Logger) LogFlush(id string, topRef uint64, err error) {
	if err != nil {
		l.Error("committing to disk failed",
			"tx", id,
			"ref", topRef,
			"error", err,
		)
	} else {
		l.Debug("committed to disk",
			"tx", id,
			"ref", topRef,
		)
	}
}

// LogCompaction logs an outlier compaction pass.
func (l *Logger) LogCompaction(id string, moved int, resumed bool, err error) {
	if err != nil {
		l.Error("compaction pass failed",
			"tx", id,
			"moved", moved,
			"error", err,
		)
	} else {
		l.Debug("compaction pass completed",
			"tx", id,
			"moved", moved,
			"resumable", resumed,
		)
	}
}
