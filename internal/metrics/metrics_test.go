// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestSetUpstreamCircuitIsOneHot(t *testing.T) {
	SetUpstreamCircuit("open")
	assert.Equal(t, 1.0, gaugeValue(t, upstreamCircuit.WithLabelValues("open")))
	assert.Equal(t, 0.0, gaugeValue(t, upstreamCircuit.WithLabelValues("closed")))

	SetUpstreamCircuit("half-open")
	assert.Equal(t, 0.0, gaugeValue(t, upstreamCircuit.WithLabelValues("open")))
	assert.Equal(t, 1.0, gaugeValue(t, upstreamCircuit.WithLabelValues("half-open")))
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{0: "error", 200: "2xx", 204: "2xx", 302: "3xx", 401: "4xx", 503: "5xx"} {
		assert.Equal(t, want, statusClass(status), status)
	}
}

func TestSetBackgroundServicesResets(t *testing.T) {
	SetBackgroundServices(map[string]int{"running": 3, "failed": 1})
	SetBackgroundServices(map[string]int{"running": 4})
	assert.Equal(t, 4.0, gaugeValue(t, backgroundServices.WithLabelValues("running")))

	var m dto.Metric
	require.NoError(t, backgroundServices.WithLabelValues("failed").Write(&m))
	assert.Equal(t, 0.0, m.GetGauge().GetValue())
}

func TestPromhttpExposure(t *testing.T) {
	SetActiveSessions(2)
	SetQueueCapacity(10)
	ObserveWorkItem("session-cleanup", "completed", 10*time.Millisecond)
	ObserveUpstreamCall("login", http.StatusOK, 40*time.Millisecond)

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, name := range []string{
		"unchained_sessions_active 2",
		"unchained_queue_capacity 10",
		`unchained_work_items_total{name="session-cleanup",outcome="completed"}`,
		`unchained_upstream_calls_total{class="2xx",op="login"} 1`,
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
