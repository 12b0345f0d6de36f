// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/unchained/internal/problem"
	"github.com/ManuGH/unchained/internal/telemetry"
)

// HeaderTraceID echoes the server span's trace id so a client can quote it
// in a support request.
const HeaderTraceID = "X-Trace-ID"

// untraced paths are polled by probes and scrapers.
var untraced = map[string]bool{
	"/health/live": true,
	"/metrics":     true,
}

// Tracing opens a server span per request, continuing any inbound W3C trace
// context. The span is named after the chi route pattern once routing is
// done, so ids and query values never reach span names or attributes.
func Tracing(tracerName string) func(http.Handler) http.Handler {
	tracer := telemetry.Tracer(tracerName)
	propagator := otel.GetTextMapPropagator

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untraced[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := propagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				w.Header().Set(HeaderTraceID, sc.TraceID().String())
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))
			finishSpan(span, r, ww)
		})
	}
}

func finishSpan(span trace.Span, r *http.Request, ww chimw.WrapResponseWriter) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	route := routePattern(r)

	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?"
	}
	attrs := telemetry.HTTPAttributes(r.Method, route, target, status)
	attrs = append(attrs, attribute.Int("http.response_size", ww.BytesWritten()))
	if id := ww.Header().Get(problem.HeaderRequestID); id != "" {
		attrs = append(attrs, attribute.String("http.request_id", id))
	}

	span.SetName(r.Method + " " + route)
	span.SetAttributes(attrs...)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		return
	}
	span.SetStatus(codes.Ok, "")
}
