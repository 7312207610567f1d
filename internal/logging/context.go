package logging

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	requestIDKey
	loggerKey
)

// ContextFields extracts the correlation fields carried by ctx: the
// active span's trace and span IDs, the distillation run ID, and the
// HTTP request ID. Absent values contribute nothing.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// idShape constrains run and request IDs to log-safe characters.
var idShape = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func mustValidID(what, id string) {
	if !idShape.MatchString(id) {
		panic(fmt.Sprintf("logging: invalid %s %q", what, id))
	}
}

// WithRunID tags ctx with a distillation run ID. IDs are limited to 128
// characters of alphanumerics, hyphen, and underscore; anything else
// panics.
func WithRunID(ctx context.Context, id string) context.Context {
	mustValidID("run ID", id)
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run ID tagged on ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithRequestID tags ctx with an HTTP request ID, validated the same way
// as run IDs.
func WithRequestID(ctx context.Context, id string) context.Context {
	mustValidID("request ID", id)
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID tagged on ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stashes logger on ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stashed on ctx, or a nop logger so call
// sites never need a nil check.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop()}
}
