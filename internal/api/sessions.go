// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/unchained/internal/auth"
	"github.com/ManuGH/unchained/internal/gate"
	"github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/problem"
)

type sessionView struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	Current        bool      `json:"current"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p := gate.FromContext(r.Context())
	list := s.deps.Auth.UserSessions(p.Session.Username)
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionView{
			ID:             sess.ID,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
			ExpiresAt:      sess.ExpiresAt,
			IPAddress:      sess.IPAddress,
			UserAgent:      sess.UserAgent,
			Current:        sess.ID == p.Session.ID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Auth.Statistics())
}

func (s *Server) handleLogoutOthers(w http.ResponseWriter, r *http.Request) {
	p := gate.FromContext(r.Context())
	n, err := s.deps.Auth.LogoutOthers(r.Context(), p.Session.ID)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			notFound(w, r, "session not found")
			return
		}
		s.ctxLogger(r.Context()).Error().Err(err).Str(log.FieldEvent, "api.logout_others_error").Msg("logout of other sessions incomplete")
		problem.Internal(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p := gate.FromContext(r.Context())
	target := chi.URLParam(r, "id")

	err := s.deps.Auth.Revoke(r.Context(), p.Session.ID, target)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrForbidden):
		problem.Forbidden(w, r, "session belongs to another user")
		return
	case errors.Is(err, auth.ErrSessionNotFound):
		notFound(w, r, "session not found")
		return
	default:
		s.ctxLogger(r.Context()).Error().Err(err).Str(log.FieldEvent, "api.revoke_error").Msg("revoke incomplete")
		problem.Internal(w, r)
		return
	}

	if target == p.Session.ID {
		gate.ClearSessionCookie(w, s.deps.Gate.Cookie())
	}
	w.WriteHeader(http.StatusNoContent)
}
