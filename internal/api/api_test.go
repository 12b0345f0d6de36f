// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/unchained/internal/auth"
	"github.com/ManuGH/unchained/internal/background"
	"github.com/ManuGH/unchained/internal/cache"
	"github.com/ManuGH/unchained/internal/config"
	"github.com/ManuGH/unchained/internal/gate"
	"github.com/ManuGH/unchained/internal/health"
	"github.com/ManuGH/unchained/internal/problem"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
	"github.com/ManuGH/unchained/internal/vault"
)

type fakeUpstream struct{ n atomic.Int64 }

func (f *fakeUpstream) Login(_ context.Context, username, password string) (*vault.TokenRecord, error) {
	if password != "secret" {
		return nil, fmt.Errorf("login: %w", upstream.ErrUnauthorized)
	}
	n := f.n.Add(1)
	return &vault.TokenRecord{
		AccessToken:  fmt.Sprintf("acc-%d", n),
		RefreshToken: fmt.Sprintf("ref-%d", n),
		Username:     username,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeUpstream) Logout(context.Context, string) error { return nil }

type fakeBackground struct{}

func (fakeBackground) Stats() background.Stats {
	return background.Stats{TotalServices: 2, RunningServices: 1, QueuedItems: 5, QueueCapacity: 10}
}

func (fakeBackground) AllServicesInfo() []background.ServiceInfo {
	return []background.ServiceInfo{
		{Name: background.NameDispatcher, Status: background.StatusRunning, Core: true},
		{Name: background.NameCacheWarming, Status: background.StatusFailed},
	}
}

type fakeWarmer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeWarmer) WarmNow() error {
	f.calls.Add(1)
	return f.err
}

type env struct {
	handler http.Handler
	store   *session.Store
	warmer  *fakeWarmer
	cache   *cache.Memory
}

func newEnv(t *testing.T, tweaks ...func(*config.AppConfig)) *env {
	t.Helper()
	cfg := config.Defaults()
	cfg.RateLimit.Enabled = false
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	store := session.NewStore(session.WithTTL(time.Hour))
	mem := vault.NewMemory()
	svc := auth.NewService(store, mem, &fakeUpstream{}, nil)
	g := gate.New(store, mem, gate.CookieConfigFrom(cfg.Auth), 0)

	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewSessionChecker(store))

	c := cache.NewMemory()
	t.Cleanup(func() { _ = c.Close() })
	w := &fakeWarmer{}

	srv, err := New(Deps{
		Config:       cfg,
		Auth:         svc,
		Gate:         g,
		Health:       hm,
		Background:   fakeBackground{},
		Warmer:       w,
		Cache:        c,
		ServeMetrics: true,
	})
	require.NoError(t, err)
	return &env{handler: srv.Handler(), store: store, warmer: w, cache: c}
}

func (e *env) do(method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) login(t *testing.T, user string) *http.Cookie {
	t.Helper()
	rec := e.do(http.MethodPost, "/auth/login", loginRequest{Username: user, Password: "secret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == config.DefaultCookieName {
			return &http.Cookie{Name: c.Name, Value: c.Value}
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestLoginOmitsSessionIDWithoutHeaderFallback(t *testing.T) {
	e := newEnv(t, func(cfg *config.AppConfig) { cfg.Auth.AllowHeaderFallback = false })

	rec := e.do(http.MethodPost, "/auth/login", loginRequest{Username: "alice", Password: "secret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.SessionID)
	require.Len(t, rec.Result().Cookies(), 1)
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem.Details {
	t.Helper()
	assert.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
	var p problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/auth/login", loginRequest{Username: "alice", Password: "secret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "alice", resp.DisplayName)
	assert.True(t, resp.HasTokens)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, e.store.Validate(cookies[0].Value))
	assert.Equal(t, cookies[0].Value, resp.SessionID, "header fallback is on by default, so the id is returned")

	rec = e.do(http.MethodPost, "/auth/login", loginRequest{Username: "alice", Password: "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "InvalidCredentials", decodeProblem(t, rec).Type)

	rec = e.do(http.MethodPost, "/auth/login", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/auth/login", loginRequest{Username: "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatedRoutesRequireSession(t *testing.T) {
	e := newEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/auth/status"},
		{http.MethodGet, "/sessions"},
		{http.MethodGet, "/sessions/statistics"},
		{http.MethodDelete, "/sessions/others"},
		{http.MethodDelete, "/sessions/abc"},
		{http.MethodGet, "/health"},
		{http.MethodGet, "/admin/background"},
		{http.MethodPost, "/admin/cache/warm"},
		{http.MethodPost, "/admin/cache/clear"},
	} {
		rec := e.do(tc.method, tc.path, nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		p := decodeProblem(t, rec)
		assert.Equal(t, "NoSession", p.Type, tc.path)
		assert.Equal(t, "Unauthorized", p.Title)
	}

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health/live", nil, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/metrics", nil, nil).Code)
}

func TestStatusAndLogout(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "alice")

	rec := e.do(http.MethodGet, "/auth/status", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Authenticated)
	assert.Equal(t, "alice", st.Username)
	assert.True(t, st.HasTokens)

	rec = e.do(http.MethodPost, "/auth/logout", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Negative(t, cleared[0].MaxAge)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/auth/status", nil, c).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/auth/logout", nil, nil).Code)
}

func TestSessionManagement(t *testing.T) {
	e := newEnv(t)
	a1 := e.login(t, "alice")
	a2 := e.login(t, "alice")
	a3 := e.login(t, "alice")
	bob := e.login(t, "bob")

	rec := e.do(http.MethodGet, "/sessions", nil, a1)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []sessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
	var current int
	for _, s := range list {
		if s.Current {
			current++
			assert.Equal(t, a1.Value, s.ID)
		}
	}
	assert.Equal(t, 1, current)

	rec = e.do(http.MethodDelete, "/sessions/"+bob.Value, nil, a1)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, e.store.Validate(bob.Value))

	rec = e.do(http.MethodDelete, "/sessions/"+a2.Value, nil, a1)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, e.store.Validate(a2.Value))

	rec = e.do(http.MethodDelete, "/sessions/unknown", nil, a1)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodDelete, "/sessions/others", nil, a1)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
	assert.False(t, e.store.Validate(a3.Value))
	assert.True(t, e.store.Validate(a1.Value))

	rec = e.do(http.MethodGet, "/sessions/statistics", nil, a1)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats session.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 2, stats.UniqueUsers)
}

func TestRevokeOwnCurrentSessionClearsCookie(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "alice")

	rec := e.do(http.MethodDelete, "/sessions/"+c.Value, nil, c)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Negative(t, rec.Result().Cookies()[0].MaxAge)
}

func TestLegacyRedirects(t *testing.T) {
	e := newEnv(t)
	for from, to := range map[string]string{
		"/sessions/create": "/auth/login",
		"/sessions/logout": "/auth/logout",
	} {
		rec := e.do(http.MethodPost, from, nil, nil)
		assert.Equal(t, http.StatusPermanentRedirect, rec.Code, from)
		assert.Equal(t, to, rec.Header().Get("Location"))
	}
}

func TestAdminBackground(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "ops")

	rec := e.do(http.MethodGet, "/admin/background", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status   health.Status            `json:"status"`
		Details  map[string]any           `json:"details"`
		Services []background.ServiceInfo `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, health.StatusDegraded, body.Status)
	assert.Equal(t, []any{background.NameCacheWarming}, body.Details["failed_service_names"])
	assert.InDelta(t, 50.0, body.Details["queue_utilization_percent"], 0.001)
	assert.Len(t, body.Services, 2)
}

func TestAdminCache(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "ops")
	ctx := context.Background()
	require.NoError(t, e.cache.Set(ctx, cache.KeyChannels, []byte(`[]`), time.Hour))

	rec := e.do(http.MethodPost, "/admin/cache/warm", nil, c)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 1, e.warmer.calls.Load())

	e.warmer.err = fmt.Errorf("enqueue: %w", queue.ErrQueueFull)
	rec = e.do(http.MethodPost, "/admin/cache/warm", nil, c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	rec = e.do(http.MethodPost, "/admin/cache/clear", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":1}`, rec.Body.String())
	_, ok := e.cache.Get(ctx, cache.KeyChannels)
	assert.False(t, ok)
}

func TestHealthGated(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "ops")

	rec := e.do(http.MethodGet, "/health", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"sessions"`))
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeProblem(t, rec).Type)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
