// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/ManuGH/unchained/internal/background"
	"github.com/ManuGH/unchained/internal/health"
	"github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/problem"
	"github.com/ManuGH/unchained/internal/queue"
)

type backgroundResponse struct {
	Status   health.Status            `json:"status"`
	Message  string                   `json:"message,omitempty"`
	Details  map[string]any           `json:"details"`
	Services []background.ServiceInfo `json:"services"`
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	if s.deps.Background == nil {
		unavailable(w, r, "background services are not running")
		return
	}
	res := health.NewBackgroundChecker(s.deps.Background).Check(r.Context())
	writeJSON(w, http.StatusOK, backgroundResponse{
		Status:   res.Status,
		Message:  res.Message,
		Details:  res.Details,
		Services: s.deps.Background.AllServicesInfo(),
	})
}

func (s *Server) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Warmer == nil {
		unavailable(w, r, "cache warming is not configured")
		return
	}
	if err := s.deps.Warmer.WarmNow(); err != nil {
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrClosed) {
			w.Header().Set("Retry-After", "30")
			unavailable(w, r, "background queue is full, try again later")
			return
		}
		s.ctxLogger(r.Context()).Error().Err(err).Str(log.FieldEvent, "api.cache_warm_error").Msg("cache warm-up not scheduled")
		problem.Internal(w, r)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": true})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		unavailable(w, r, "cache is not configured")
		return
	}
	n, err := s.deps.Cache.Clear(r.Context())
	if err != nil {
		s.ctxLogger(r.Context()).Error().Err(err).Str(log.FieldEvent, "api.cache_clear_error").Msg("cache clear failed")
		problem.Internal(w, r)
		return
	}
	s.ctxLogger(r.Context()).Info().Str(log.FieldEvent, "cache.cleared").Int("entries", n).Msg("cache cleared")
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
