// Package logging provides structured logging configuration using log/slog.
//
// Request and task context travel with the context.Context: chi's RequestID
// middleware stores a request id, and queue workers store the kind and id of
// the task they run. FromContext attaches whichever is present, so every log
// line of one request or one task can be correlated.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type taskKey struct{}

type taskInfo struct {
	kind string
	id   string
}

// ContextWithTask marks ctx as running the given queue task.
func ContextWithTask(ctx context.Context, kind, taskID string) context.Context {
	return context.WithValue(ctx, taskKey{}, taskInfo{kind: kind, id: taskID})
}

// FromContext returns a logger enriched with request and task context.
//
// Usage:
//
//	func handleRequest(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("processing request", "import_id", importID)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	// Chi's RequestID middleware stores the ID in context
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	if t, ok := ctx.Value(taskKey{}).(taskInfo); ok {
		logger = logger.With("task_kind", t.kind, "task_id", t.id)
	}

	return logger
}

// ForTask returns ctx marked with the task together with its logger.
func ForTask(ctx context.Context, kind, taskID string) (context.Context, *slog.Logger) {
	ctx = ContextWithTask(ctx, kind, taskID)
	return ctx, FromContext(ctx)
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	log := logging.WithFields(ctx, "import_id", importID)
//	log.Info("import started")
//	// ... later ...
//	log.Info("import completed", "rows", n)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
