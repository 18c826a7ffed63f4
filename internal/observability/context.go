package observability

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey int

const traceIDKey ctxKey = iota

// WithTrace returns a context carrying a request/trace id, generating one if
// traceID is empty.
func WithTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace id stashed by WithTrace, or "" if none.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// LoggerWithTrace returns a logger annotated with the context's trace id,
// falling back to the global logger when the context carries none.
func LoggerWithTrace(ctx context.Context) zerolog.Logger {
	id := TraceID(ctx)
	if id == "" {
		return log.Logger
	}
	return log.Logger.With().Str("request_id", id).Logger()
}
