// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unchained_sessions_active",
		Help: "Number of sessions currently held in the store",
	})

	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unchained_sessions_created_total",
		Help: "Total number of sessions created",
	})

	sessionsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unchained_sessions_removed_total",
		Help: "Total number of sessions removed by reason",
	}, []string{"reason"}) // reason=logout|expired|revoked|evicted

	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unchained_gate_decisions_total",
		Help: "Request gate decisions by outcome and reason",
	}, []string{"outcome", "reason"})

	tokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unchained_token_refresh_total",
		Help: "Token refresh attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure
)

// SetActiveSessions records the current session count.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}

// IncSessionCreated counts one created session.
func IncSessionCreated() {
	sessionsCreated.Inc()
}

// IncSessionRemoved counts one removed session.
func IncSessionRemoved(reason string) {
	sessionsRemoved.WithLabelValues(reason).Inc()
}

// RecordGateDecision counts a request gate decision.
func RecordGateDecision(outcome, reason string) {
	gateDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordTokenRefresh counts one refresh attempt.
func RecordTokenRefresh(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	tokenRefreshTotal.WithLabelValues(outcome).Inc()
}
