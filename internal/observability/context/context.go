// Package context holds correlation values shared by logging and tracing.
package context

import (
	"context"
	"strings"
)

type key int

const (
	requestIDKey key = iota
	ridKey
	actorTypeKey
	actorIDKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

// WithRID stores the reconciliation request id used in trace events.
func WithRID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ridKey, strings.TrimSpace(rid))
}

func RIDFromContext(ctx context.Context) string {
	return value(ctx, ridKey)
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, strings.TrimSpace(actorType))
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

func ActorFromContext(ctx context.Context) (string, string) {
	return value(ctx, actorTypeKey), value(ctx, actorIDKey)
}

func value(ctx context.Context, k key) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(k).(string)
	return v
}
