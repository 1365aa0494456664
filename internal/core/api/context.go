package api

import "context"

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// requestIDKey is the context key for the per-call request id.
const requestIDKey = contextKey("request_id")

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request id from context.
// Returns empty string if not found.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
