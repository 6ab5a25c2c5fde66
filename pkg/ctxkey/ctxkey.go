// Package ctxkey defines the context keys the core accepts from its
// transport binding. The coupon service and the HTTP handlers' error
// path read whatever correlation id is already on the context so their
// log lines carry it, independent of which transport set it.
package ctxkey

import "context"

type key int

const correlationIDKey key = iota

// WithCorrelationID returns a context carrying id for later retrieval by
// CorrelationID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id on ctx, or "" if none was set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
