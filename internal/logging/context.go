package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	ctxKeyRequestID     ctxKey = "request_id"
	ctxKeyCorrelationID ctxKey = "correlation_id"
	ctxKeyUserID        ctxKey = "user_id"
)

// WithRequestID stores the request id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// GetRequestID returns the request id stored on ctx, or "".
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, ctxKeyRequestID)
}

// WithCorrelationID stores the correlation id on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// GetCorrelationID returns the correlation id stored on ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	return stringValue(ctx, ctxKeyCorrelationID)
}

// WithUserID stores the id of the profile the request acts for.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, id)
}

// GetUserID returns the user id stored on ctx, or "".
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, ctxKeyUserID)
}

// FromContext returns base enriched with whatever identifiers ctx carries.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	var fields []zap.Field
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, zap.String(FieldRequestID, v))
	}
	if v := GetCorrelationID(ctx); v != "" {
		fields = append(fields, zap.String(FieldCorrelationID, v))
	}
	if v := GetUserID(ctx); v != "" {
		fields = append(fields, zap.String(FieldUserID, v))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
