// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/unchained/internal/log"
)

// StackConfig selects the optional layers of the ingress stack. Recovery
// and request ids are always on.
type StackConfig struct {
	EnableSecurityHeaders bool
	CSP                   string
	TrustedProxies        []*net.IPNet

	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	EnableRateLimit    bool
	RateLimitPerMinute int
	RateLimitWhitelist []*net.IPNet
}

// Layers returns the configured middleware, outermost first.
//
//	recoverer > request id > security headers > metrics > tracing > access log > rate limit
//
// Tracing wraps the access log so log lines carry the trace id, and the rate
// limiter sits innermost so rejected requests are still measured and logged.
func (c StackConfig) Layers() []func(http.Handler) http.Handler {
	layers := []func(http.Handler) http.Handler{Recoverer, RequestID}
	if c.EnableSecurityHeaders {
		layers = append(layers, SecurityHeaders(c.CSP, c.TrustedProxies))
	}
	if c.EnableMetrics {
		layers = append(layers, Metrics())
	}
	if c.TracingService != "" {
		layers = append(layers, Tracing(c.TracingService))
	}
	if c.EnableLogging {
		layers = append(layers, log.Middleware())
	}
	if c.EnableRateLimit {
		layers = append(layers, APIRateLimit(c.RateLimitPerMinute, c.RateLimitWhitelist))
	}
	return layers
}

// NewRouter returns a chi router with the stack installed.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack installs cfg's layers on r.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(cfg.Layers()...)
}
