// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package background runs the maintenance workers that keep sessions and
// upstream credentials alive, and orchestrates their startup and health.
package background

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStartupFailed is returned when a required service could not start.
	ErrStartupFailed = errors.New("background startup failed")
	// ErrUnknownService is returned for a name that was never registered.
	ErrUnknownService = errors.New("unknown background service")
	// ErrAlreadyRunning is returned when starting a service that is running.
	ErrAlreadyRunning = errors.New("background service already running")
)

// Service names.
const (
	NameDispatcher     = "dispatcher"
	NameTokenRefresh   = "token-refresh"
	NameSessionCleanup = "session-cleanup"
	NameCacheWarming   = "cache-warming"
	NameTelemetry      = "telemetry"
)

// Work item priorities. Higher runs first.
const (
	PriorityTokenRefresh   = 100
	PrioritySessionCleanup = 50
	PriorityCacheWarming   = 10
	PriorityTelemetry      = 1
)

// Service is a long-running background component.
type Service interface {
	Name() string
	// Start launches the service and returns once it is running.
	Start(ctx context.Context) error
	// Stop halts the service and waits for it, bounded by ctx.
	Stop(ctx context.Context) error
}

// Status is the lifecycle state of a managed service.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Active reports whether the service is doing work.
func (s Status) Active() bool { return s == StatusRunning || s == StatusDegraded }

// ServiceInfo is a snapshot of one managed service.
type ServiceInfo struct {
	Name            string    `json:"name"`
	Status          Status    `json:"status"`
	Core            bool      `json:"core"`
	LastHealthCheck time.Time `json:"last_health_check"`
	LastError       string    `json:"last_error,omitempty"`
}

// Stats summarises the background subsystem.
type Stats struct {
	TotalServices   int       `json:"total_services"`
	RunningServices int       `json:"running_services"`
	QueuedItems     int       `json:"queued_items"`
	QueueCapacity   int       `json:"queue_capacity"`
	LastUpdated     time.Time `json:"last_updated"`
}
