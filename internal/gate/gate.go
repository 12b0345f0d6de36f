// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gate decides whether an inbound request carries a live session.
package gate

import (
	"context"
	"net/http"
	"time"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/ManuGH/unchained/internal/problem"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/vault"
	"github.com/rs/zerolog"
)

// State is the per-request gate state.
type State int

const (
	Unchecked State = iota
	Validating
	Authorized
	Rejected
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Validating:
		return "validating"
	case Authorized:
		return "authorized"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Reason explains a rejection. It doubles as the problem type.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNoSession      Reason = "NoSession"
	ReasonSessionExpired Reason = "SessionExpired"
)

func (r Reason) detail() string {
	switch r {
	case ReasonSessionExpired:
		return "session has expired, please log in again"
	default:
		return "no valid session, please log in"
	}
}

// Decision is the outcome of evaluating one request.
type Decision struct {
	State   State
	Reason  Reason
	Session session.Session
	Token   *vault.TokenRecord
	Source  string // cookie | header
}

// Principal is what an authorized request carries in its context.
type Principal struct {
	Session session.Session
	Token   *vault.TokenRecord
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the request principal, or nil on an ungated request.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Gate validates sessions for protected routes.
type Gate struct {
	sessions      *session.Store
	vault         vault.Vault
	cookie        CookieConfig
	touchInterval time.Duration
	logger        zerolog.Logger
}

// New creates a gate. touchInterval samples activity updates: a validated
// request extends the session only if the last recorded activity is at
// least that old. Zero touches on every request.
func New(sessions *session.Store, v vault.Vault, cookie CookieConfig, touchInterval time.Duration) *Gate {
	return &Gate{
		sessions:      sessions,
		vault:         v,
		cookie:        cookie,
		touchInterval: touchInterval,
		logger:        xglog.WithComponent("gate"),
	}
}

// Cookie returns the cookie settings the gate reads and clears.
func (g *Gate) Cookie() CookieConfig { return g.cookie }

// Evaluate runs the validation step for r without side effects on the
// session or the response.
func (g *Gate) Evaluate(r *http.Request) Decision {
	d := Decision{State: Validating}

	id, source := SessionID(r, g.cookie.Name)
	if source == "header" && !g.cookie.AllowHeader {
		id, source = "", ""
	}
	d.Source = source
	if id == "" {
		return reject(d, ReasonNoSession)
	}
	sess, ok := g.sessions.Get(id)
	if !ok {
		return reject(d, ReasonNoSession)
	}
	if sess.IsExpired(g.sessions.Now()) {
		d.Session = sess
		return reject(d, ReasonSessionExpired)
	}

	rec, err := g.vault.Load(r.Context(), sess.TokenKey)
	if err != nil {
		g.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "gate.token_load_failed").
			Str(xglog.FieldSessionID, xglog.MaskID(id)).
			Msg("session valid but token snapshot unavailable")
	}
	d.State = Authorized
	d.Session = sess
	d.Token = rec
	return d
}

func reject(d Decision, reason Reason) Decision {
	d.State = Rejected
	d.Reason = reason
	return d
}

// Exempt marks h as public. Middleware leaves exempt handlers unwrapped, so
// the decision is made once when routes are registered.
func Exempt(h http.Handler) http.Handler { return exempt{h} }

type exempt struct{ http.Handler }

// Middleware rejects requests without a live session with a 401 problem and
// clears the stale cookie. Authorized requests get a Principal in their
// context and their session touched.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	if _, ok := next.(exempt); ok {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Evaluate(r)
		if d.State != Authorized {
			metrics.RecordGateDecision("rejected", string(d.Reason))
			logger := xglog.WithContext(r.Context(), g.logger)
			logger.Debug().
				Str(xglog.FieldEvent, "gate.rejected").
				Str("reason", string(d.Reason)).
				Str(xglog.FieldPath, r.URL.Path).
				Msg("request rejected")
			ClearSessionCookie(w, g.cookie)
			problem.Write(w, r, http.StatusUnauthorized, string(d.Reason), "Unauthorized", d.Reason.detail())
			return
		}
		metrics.RecordGateDecision("authorized", "")

		if g.touchInterval <= 0 || g.sessions.Now().Sub(d.Session.LastActivityAt) >= g.touchInterval {
			if g.sessions.Touch(d.Session.ID) {
				if s, ok := g.sessions.Get(d.Session.ID); ok {
					d.Session = s
				}
			}
		}

		ctx := WithPrincipal(r.Context(), &Principal{Session: d.Session, Token: d.Token})
		ctx = xglog.ContextWithSessionID(ctx, d.Session.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
