package observability

import "context"

type correlationKey struct{}

// CorrelationIDHeader carries the id across the host adapter and provider calls.
const CorrelationIDHeader = "X-Correlation-ID"

// WithCorrelationID returns ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
