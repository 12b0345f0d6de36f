// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/unchained/internal/background"
	"github.com/ManuGH/unchained/internal/config"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

func TestManager_Live(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "broken", status: StatusUnhealthy})

	resp := m.Live()
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)
}

func TestManager_CheckAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusUnhealthy, StatusDegraded, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test")
			for i, s := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.statuses))
		})
	}
}

func TestServeLiveAlways200(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(&mockChecker{name: "broken", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.ServeLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServeHealthStatusCodes(t *testing.T) {
	for _, tt := range []struct {
		status Status
		code   int
	}{
		{StatusHealthy, http.StatusOK},
		{StatusDegraded, http.StatusOK},
		{StatusUnhealthy, http.StatusServiceUnavailable},
	} {
		m := NewManager("v1")
		m.RegisterChecker(&mockChecker{name: "c", status: tt.status})

		rec := httptest.NewRecorder()
		m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, tt.code, rec.Code, tt.status)

		var body Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.status, body.Status)
		assert.Equal(t, tt.status, body.Checks["c"].Status)
	}
}

type fakeBackground struct {
	stats background.Stats
	infos []background.ServiceInfo
}

func (f fakeBackground) Stats() background.Stats                   { return f.stats }
func (f fakeBackground) AllServicesInfo() []background.ServiceInfo { return f.infos }

func TestBackgroundChecker(t *testing.T) {
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := fakeBackground{
		stats: background.Stats{TotalServices: 3, RunningServices: 2, QueuedItems: 25, QueueCapacity: 100, LastUpdated: updated},
		infos: []background.ServiceInfo{
			{Name: background.NameTokenRefresh, Status: background.StatusRunning},
			{Name: background.NameCacheWarming, Status: background.StatusFailed},
			{Name: background.NameDispatcher, Status: background.StatusDegraded},
		},
	}

	res := NewBackgroundChecker(src).Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, 3, res.Details["total_services"])
	assert.Equal(t, 2, res.Details["running_services"])
	assert.Equal(t, 1, res.Details["failed_services"])
	assert.Equal(t, 25, res.Details["queued_items"])
	assert.Equal(t, 100, res.Details["queue_capacity"])
	assert.InDelta(t, 25.0, res.Details["queue_utilization_percent"], 0.001)
	assert.Equal(t, []string{background.NameCacheWarming}, res.Details["failed_service_names"])
	assert.Equal(t, []string{background.NameDispatcher, background.NameTokenRefresh}, res.Details["running_service_names"])
	assert.Equal(t, updated, res.Details["last_updated"])
}

func TestBackgroundCheckerStatus(t *testing.T) {
	healthy := fakeBackground{
		stats: background.Stats{TotalServices: 1, QueueCapacity: 10},
		infos: []background.ServiceInfo{{Name: "a", Status: background.StatusRunning}},
	}
	assert.Equal(t, StatusHealthy, NewBackgroundChecker(healthy).Check(context.Background()).Status)

	none := fakeBackground{
		stats: background.Stats{TotalServices: 1},
		infos: []background.ServiceInfo{{Name: "a", Status: background.StatusStopped}},
	}
	res := NewBackgroundChecker(none).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, 0.0, res.Details["queue_utilization_percent"])
	assert.Equal(t, []string{}, res.Details["failed_service_names"])
}

func TestSessionCheckerAlwaysHealthy(t *testing.T) {
	store := session.NewStore()
	_, err := store.Create(context.Background(), "alice")
	require.NoError(t, err)

	res := NewSessionChecker(store).Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, 1, res.Details["active_sessions"])
	assert.Equal(t, 1, res.Details["unique_users"])
	assert.NotContains(t, res.Details, "last_cleanup")

	store.PurgeExpired()
	res = NewSessionChecker(store).Check(context.Background())
	assert.Contains(t, res.Details, "last_cleanup")
}

type breaker upstream.State

func (b breaker) BreakerState() upstream.State { return upstream.State(b) }

func TestUpstreamChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewUpstreamChecker(breaker(upstream.StateClosed)).Check(context.Background()).Status)
	assert.Equal(t, StatusHealthy, NewUpstreamChecker(breaker(upstream.StateHalfOpen)).Check(context.Background()).Status)

	res := NewUpstreamChecker(breaker(upstream.StateOpen)).Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "open", res.Details["circuit_state"])
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Server.Listen = ":0"
	cfg.TokenStorage.Backend = "badger"
	cfg.TokenStorage.AutoSave = true
	cfg.TokenStorage.Path = filepath.Join(cfg.DataDir, "tokens")

	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
	info, err := os.Stat(cfg.TokenStorage.Path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	cfg.Server.Listen = "no-port"
	assert.Error(t, PerformStartupChecks(context.Background(), cfg))
}

func TestPerformStartupChecksRejectsFileAsDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	cfg := config.Defaults()
	cfg.DataDir = path
	assert.Error(t, PerformStartupChecks(context.Background(), cfg))
}
