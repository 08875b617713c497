// Package observability provides structured logging and request
// tracking for policyguard.
package observability

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// WithRequestID generates a new request ID and stores it in the
// context. Each CLI invocation calls this once at startup so every
// log event of one decision request correlates.
func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestIDKey{}, uuid.NewString())
}

// RequestID retrieves the request ID from context, or "" if unset.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
