// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ManuGH/unchained/internal/config"
)

var (
	ErrMissingLogger         = errors.New("daemon: logger is required")
	ErrMissingAPIHandler     = errors.New("daemon: API handler is required")
	ErrMissingMetricsHandler = errors.New("daemon: metrics listener configured without a handler")
	ErrMissingManager        = errors.New("daemon: manager is required")

	// ErrManagerNotStarted is returned by Shutdown before Start was called.
	ErrManagerNotStarted = errors.New("daemon: manager not started")

	// ErrServerStartFailed wraps listener bind failures.
	ErrServerStartFailed = errors.New("daemon: server failed to start")
)

// Deps is what the Manager serves: the gateway API and, optionally, a
// dedicated Prometheus listener.
type Deps struct {
	Logger zerolog.Logger
	Server config.ServerConfig

	APIHandler http.Handler

	// MetricsAddr enables the dedicated metrics listener. Empty means
	// /metrics is mounted on the API router instead.
	MetricsAddr    string
	MetricsHandler http.Handler
}

// Validate reports the first missing collaborator.
func (d *Deps) Validate() error {
	switch {
	case d.Logger.GetLevel() == zerolog.Disabled:
		return ErrMissingLogger
	case d.APIHandler == nil:
		return ErrMissingAPIHandler
	case d.MetricsAddr != "" && d.MetricsHandler == nil:
		return ErrMissingMetricsHandler
	}
	return nil
}
