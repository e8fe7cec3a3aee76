package log

import (
	"context"
	"log/slog"
	"net/http"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// Middleware creates HTTP middleware that adds a logger to the request context
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), logger)))
		})
	}
}

// NewContext returns ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context, falling back to
// the slog default tagged "unknown".
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	l := slog.Default()
	return &Logger{Logger: l, base: l, component: "unknown"}
}

// ComponentMiddleware retags the request logger with component.
func ComponentMiddleware(component string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := FromContext(r.Context()).WithComponent(component)
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), logger)))
		})
	}
}

// StructuredLogger writes the audit lines of schedule operations.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogScheduleCreated logs a successfully created schedule
func (sl *StructuredLogger) LogScheduleCreated(ctx context.Context, id, accountID, amount string) {
	fields := NewFields().
		WithSchedule(id, accountID, amount).
		WithOperation(OpCreate).
		WithComponent(ComponentSchedules)

	sl.from(ctx).InfoContext(ctx, "Scheduled transaction created", fields.ToSlice()...)
}

// LogConfirmed logs the outcome of a manually confirmed execution
func (sl *StructuredLogger) LogConfirmed(ctx context.Context, id, occurrence, outcome, transactionID string) {
	fields := NewFields().
		WithAttempt(occurrence, outcome, transactionID).
		WithOperation(OpConfirm).
		WithComponent(ComponentEngine)
	fields[FieldScheduleID] = id

	sl.from(ctx).InfoContext(ctx, "Scheduled transaction confirmed", fields.ToSlice()...)
}

// from prefers the request-scoped logger, which carries the request id.
func (sl *StructuredLogger) from(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return l.base
	}
	return sl.logger.base
}
