// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	sessionIDKey
	workItemIDKey
)

func with(ctx context.Context, key ctxKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func value(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID stores the inbound request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

// ContextWithSessionID stores the (already validated) session id. Only the
// masked form is ever written to log output.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, sessionIDKey, id)
}

// ContextWithWorkItemID marks ctx as running on behalf of a queued work item.
func ContextWithWorkItemID(ctx context.Context, id string) context.Context {
	return with(ctx, workItemIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string  { return value(ctx, requestIDKey) }
func SessionIDFromContext(ctx context.Context) string  { return value(ctx, sessionIDKey) }
func WorkItemIDFromContext(ctx context.Context) string { return value(ctx, workItemIDKey) }

// WithContext enriches logger with the correlation ids found in ctx,
// including the active trace id when a span is recording.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	b := logger.With()
	added := false
	if id := RequestIDFromContext(ctx); id != "" {
		b = b.Str(FieldRequestID, id)
		added = true
	}
	if id := SessionIDFromContext(ctx); id != "" {
		b = b.Str(FieldSessionID, MaskID(id))
		added = true
	}
	if id := WorkItemIDFromContext(ctx); id != "" {
		b = b.Str(FieldWorkItemID, id)
		added = true
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		b = b.Str(FieldTraceID, sc.TraceID().String())
		added = true
	}
	if !added {
		return logger
	}
	return b.Logger()
}

// WithComponentFromContext returns a component logger enriched from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
