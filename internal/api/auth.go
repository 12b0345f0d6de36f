// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/unchained/internal/auth"
	"github.com/ManuGH/unchained/internal/gate"
	"github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/upstream"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success          bool      `json:"success"`
	DisplayName      string    `json:"displayName"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt"`
	HasTokens        bool      `json:"hasTokens"`
	SessionID        string    `json:"sessionId,omitempty"`
}

type statusResponse struct {
	Authenticated    bool      `json:"authenticated"`
	Username         string    `json:"username"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
	HasTokens        bool      `json:"hasTokens"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	res, err := s.deps.Auth.Login(r.Context(), auth.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrMissingCredentials):
		badRequest(w, r, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", "Unauthorized", "invalid username or password")
		return
	case errors.Is(err, upstream.ErrCircuitOpen), errors.Is(err, upstream.ErrUnavailable), errors.Is(err, upstream.ErrTimeout):
		unavailable(w, r, "the TV service is temporarily unreachable")
		return
	default:
		s.ctxLogger(r.Context()).Error().Err(err).Str(log.FieldEvent, "api.login_error").Msg("login failed")
		writeProblem(w, r, http.StatusBadGateway, "UpstreamError", "Bad Gateway", "login could not be completed")
		return
	}

	cookie := s.deps.Gate.Cookie()
	gate.SetSessionCookie(w, res.Session.ID, cookie)
	resp := loginResponse{
		Success:          true,
		DisplayName:      res.Session.Username,
		SessionExpiresAt: res.Session.ExpiresAt,
		HasTokens:        res.Token.IsValid(time.Now()),
	}
	if cookie.AllowHeader {
		resp.SessionID = res.Session.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout is public so a client with an already expired session can
// still clear its cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie := s.deps.Gate.Cookie()
	if id, _ := gate.SessionID(r, cookie.Name); id != "" {
		if err := s.deps.Auth.Logout(r.Context(), id); err != nil {
			s.ctxLogger(r.Context()).Warn().Err(err).Str(log.FieldEvent, "api.logout_error").Msg("logout incomplete")
		}
	}
	gate.ClearSessionCookie(w, cookie)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := gate.FromContext(r.Context())
	writeJSON(w, http.StatusOK, statusResponse{
		Authenticated:    true,
		Username:         p.Session.Username,
		SessionExpiresAt: p.Session.ExpiresAt,
		LastActivityAt:   p.Session.LastActivityAt,
		HasTokens:        p.Token.IsValid(time.Now()),
	})
}
