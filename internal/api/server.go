// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the session, health and admin HTTP surface.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/unchained/internal/auth"
	"github.com/ManuGH/unchained/internal/background"
	"github.com/ManuGH/unchained/internal/cache"
	"github.com/ManuGH/unchained/internal/config"
	"github.com/ManuGH/unchained/internal/gate"
	"github.com/ManuGH/unchained/internal/health"
	"github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/middleware"
)

// BackgroundStatus is the read side of the orchestrator.
type BackgroundStatus interface {
	Stats() background.Stats
	AllServicesInfo() []background.ServiceInfo
}

// CacheWarmer schedules an out-of-band cache warm-up.
type CacheWarmer interface {
	WarmNow() error
}

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Config     config.AppConfig
	Auth       *auth.Service
	Gate       *gate.Gate
	Health     *health.Manager
	Background BackgroundStatus
	Warmer     CacheWarmer
	Cache      cache.Cache
	// ServeMetrics mounts /metrics on the API router. Leave false when a
	// dedicated metrics listener is configured.
	ServeMetrics bool
}

// Server owns the router and handlers.
type Server struct {
	deps    Deps
	stack   middleware.StackConfig
	logger  zerolog.Logger
	handler http.Handler
}

// New validates deps and builds the router.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Auth == nil:
		return nil, fmt.Errorf("api: auth service is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("api: gate is required")
	case deps.Health == nil:
		return nil, fmt.Errorf("api: health manager is required")
	}
	whitelist, err := middleware.ParseCIDRs(deps.Config.RateLimit.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("api: rate limit whitelist: %w", err)
	}

	s := &Server{
		deps:   deps,
		logger: log.WithComponent("api"),
		stack: middleware.StackConfig{
			EnableSecurityHeaders: true,
			TrustedProxies:        whitelist,
			EnableMetrics:         true,
			TracingService:        "unchained/http",
			EnableLogging:         true,
			EnableRateLimit:       deps.Config.RateLimit.Enabled,
			RateLimitPerMinute:    deps.Config.RateLimit.RequestsPerMinute,
			RateLimitWhitelist:    whitelist,
		},
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(s.stack)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		notFound(w, r, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method Not Allowed", r.Method+" is not allowed here")
	})

	s.registerPublicRoutes(r)
	r.Group(func(g chi.Router) {
		g.Use(s.deps.Gate.Middleware)
		s.registerSessionRoutes(g)
		s.registerAdminRoutes(g)
	})
	return r
}

func (s *Server) registerPublicRoutes(r chi.Router) {
	r.With(middleware.LoginRateLimit()).Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/health/live", s.deps.Health.ServeLive)

	// Older clients still post to the pre-1.0 session endpoints.
	r.Post("/sessions/create", redirect("/auth/login"))
	r.Post("/sessions/logout", redirect("/auth/logout"))

	if s.deps.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
}

func (s *Server) registerSessionRoutes(r chi.Router) {
	r.Get("/auth/status", s.handleStatus)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/statistics", s.handleStatistics)
	r.Delete("/sessions/others", s.handleLogoutOthers)
	r.Delete("/sessions/{id}", s.handleRevoke)
}

func (s *Server) registerAdminRoutes(r chi.Router) {
	r.Get("/health", s.deps.Health.ServeHealth)
	r.Get("/admin/background", s.handleBackground)
	r.Post("/admin/cache/warm", s.handleCacheWarm)
	r.Post("/admin/cache/clear", s.handleCacheClear)
}

// redirect answers 308 so the method and body are preserved.
func redirect(to string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, to, http.StatusPermanentRedirect)
	}
}

func (s *Server) ctxLogger(ctx context.Context) *zerolog.Logger {
	l := log.WithContext(ctx, s.logger)
	return &l
}
