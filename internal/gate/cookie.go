// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gate

import (
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/unchained/internal/config"
)

const sessionScheme = "session"

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	TTL      time.Duration
	// AllowHeader accepts "Authorization: Session <id>" when no cookie is sent.
	AllowHeader bool
}

// CookieConfigFrom derives cookie settings from the auth configuration.
func CookieConfigFrom(a config.AuthConfig) CookieConfig {
	name := a.CookieName
	if name == "" {
		name = config.DefaultCookieName
	}
	return CookieConfig{
		Name:     name,
		Secure:   a.SecureCookies,
		SameSite: ParseSameSite(a.SameSite),
		TTL:      a.SessionTTL(),

		AllowHeader: a.AllowHeaderFallback,
	}
}

// ParseSameSite maps lax/strict/none; anything else is Lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// SetSessionCookie issues the session cookie for id.
func SetSessionCookie(w http.ResponseWriter, id string, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
		Expires:  time.Now().Add(cfg.TTL),
		MaxAge:   int(cfg.TTL.Seconds()),
	})
}

// ClearSessionCookie tells the client to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// SessionID extracts the session id from the cookie, falling back to an
// "Authorization: Session <id>" header. The second result names the source.
func SessionID(r *http.Request, cookieName string) (string, string) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, "cookie"
	}
	scheme, id, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, sessionScheme) {
		if id = strings.TrimSpace(id); id != "" {
			return id, "header"
		}
	}
	return "", ""
}
