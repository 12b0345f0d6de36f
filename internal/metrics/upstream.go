// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamCircuit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "unchained_upstream_circuit_state",
		Help: "Upstream circuit breaker state (active state=1, others 0)",
	}, []string{"state"})

	upstreamTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unchained_upstream_circuit_trips_total",
		Help: "Transitions of the upstream breaker to open",
	}, []string{"reason"})

	upstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unchained_upstream_calls_total",
		Help: "Upstream API calls by operation and HTTP status class",
	}, []string{"op", "class"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unchained_upstream_call_duration_seconds",
		Help:    "Upstream API call latency by operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetUpstreamCircuit marks state as the active breaker state.
func SetUpstreamCircuit(state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		upstreamCircuit.WithLabelValues(s).Set(v)
	}
}

func RecordUpstreamTrip(reason string) {
	upstreamTrips.WithLabelValues(reason).Inc()
}

// ObserveUpstreamCall records one finished call. status 0 means the request
// never produced a response.
func ObserveUpstreamCall(op string, status int, d time.Duration) {
	upstreamCalls.WithLabelValues(op, statusClass(status)).Inc()
	upstreamLatency.WithLabelValues(op).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status <= 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
