package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const maxErrorLen = 256

// Attribute keys that must never reach the exporter: free-form operator
// notes, tenant names and prompt text.
var forbiddenKeys = map[attribute.Key]struct{}{
	"notes":         {},
	"tenant_name":   {},
	"prompt":        {},
	"ai.prompt":     {},
	"authorization": {},
	"api_key":       {},
}

// ExtractContext restores the remote span context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops forbidden keys and empty string values.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, bad := forbiddenKeys[attr.Key]; bad {
			continue
		}
		if attr.Value.Type() == attribute.STRING && strings.TrimSpace(attr.Value.AsString()) == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns a copy of err with the message truncated to a single
// bounded line.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
