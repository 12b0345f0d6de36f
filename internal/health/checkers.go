// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"math"

	"github.com/ManuGH/unchained/internal/background"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
)

// BackgroundSource is what BackgroundChecker reads from the orchestrator.
type BackgroundSource interface {
	Stats() background.Stats
	AllServicesInfo() []background.ServiceInfo
}

// BackgroundChecker reports on the managed background services.
type BackgroundChecker struct {
	src BackgroundSource
}

func NewBackgroundChecker(src BackgroundSource) *BackgroundChecker {
	return &BackgroundChecker{src: src}
}

func (c *BackgroundChecker) Name() string { return "background_services" }

func (c *BackgroundChecker) Check(_ context.Context) CheckResult {
	stats := c.src.Stats()
	var failed, running []string
	for _, info := range c.src.AllServicesInfo() {
		switch {
		case info.Status == background.StatusFailed:
			failed = append(failed, info.Name)
		case info.Status.Active():
			running = append(running, info.Name)
		}
	}

	utilization := 0.0
	if stats.QueueCapacity > 0 {
		utilization = math.Round(float64(stats.QueuedItems)/float64(stats.QueueCapacity)*10000) / 100
	}

	res := CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d of %d services running", len(running), stats.TotalServices),
		Details: map[string]any{
			"total_services":            stats.TotalServices,
			"running_services":          len(running),
			"failed_services":           len(failed),
			"queued_items":              stats.QueuedItems,
			"queue_capacity":            stats.QueueCapacity,
			"queue_utilization_percent": utilization,
			"failed_service_names":      sortedNames(failed),
			"running_service_names":     sortedNames(running),
			"last_updated":              stats.LastUpdated,
		},
	}
	switch {
	case len(running) == 0:
		res.Status = StatusUnhealthy
		res.Message = "no background services running"
	case len(failed) > 0:
		res.Status = StatusDegraded
	}
	return res
}

// SessionChecker exposes session store statistics. It never fails.
type SessionChecker struct {
	store *session.Store
}

func NewSessionChecker(store *session.Store) *SessionChecker {
	return &SessionChecker{store: store}
}

func (c *SessionChecker) Name() string { return "sessions" }

func (c *SessionChecker) Check(_ context.Context) CheckResult {
	st := c.store.Statistics()
	details := map[string]any{
		"active_sessions":  st.ActiveSessions,
		"expired_sessions": st.ExpiredSessions,
		"unique_users":     st.UniqueUsers,
	}
	if !st.LastCleanup.IsZero() {
		details["last_cleanup"] = st.LastCleanup
	}
	return CheckResult{Status: StatusHealthy, Details: details}
}

// BreakerSource reports the upstream circuit breaker state.
type BreakerSource interface {
	BreakerState() upstream.State
}

// UpstreamChecker turns the circuit breaker state into a health status.
type UpstreamChecker struct {
	src BreakerSource
}

func NewUpstreamChecker(src BreakerSource) *UpstreamChecker {
	return &UpstreamChecker{src: src}
}

func (c *UpstreamChecker) Name() string { return "upstream" }

func (c *UpstreamChecker) Check(_ context.Context) CheckResult {
	state := c.src.BreakerState()
	res := CheckResult{
		Status:  StatusHealthy,
		Details: map[string]any{"circuit_state": state.String()},
	}
	switch state {
	case upstream.StateOpen:
		res.Status = StatusDegraded
		res.Message = "upstream circuit open, calls are short-circuited"
	case upstream.StateHalfOpen:
		res.Message = "upstream recovering"
	}
	return res
}
