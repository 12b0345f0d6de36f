// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks cross-field invariants of a resolved configuration.
// All problems are reported at once.
func Validate(cfg AppConfig) error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...)))
	}

	if cfg.Auth.CookieName == "" {
		fail("auth.cookie_name", "must not be empty")
	}
	if cfg.Auth.SessionTTLMinutes < 1 {
		fail("auth.session_ttl_minutes", "must be at least 1, got %d", cfg.Auth.SessionTTLMinutes)
	}
	switch cfg.Auth.SameSite {
	case "lax", "strict", "none":
	default:
		fail("auth.same_site", "must be one of lax, strict, none; got %q", cfg.Auth.SameSite)
	}
	if cfg.Auth.SameSite == "none" && !cfg.Auth.SecureCookies {
		fail("auth.same_site", "none requires secure_cookies")
	}
	if cfg.Auth.TouchInterval < 0 {
		fail("auth.touch_interval", "must not be negative")
	}
	if cfg.Auth.MaxSessionsPerUser < 0 {
		fail("auth.max_sessions_per_user", "must not be negative")
	}

	if cfg.Background.MaxQueueSize < 1 {
		fail("background.max_queue_size", "must be at least 1, got %d", cfg.Background.MaxQueueSize)
	}
	if cfg.Background.Workers < 1 {
		fail("background.workers", "must be at least 1, got %d", cfg.Background.Workers)
	}
	if cfg.Background.ItemTimeout <= 0 {
		fail("background.item_timeout", "must be positive")
	}
	if cfg.Background.MaxRetries < 0 {
		fail("background.max_retries", "must not be negative")
	}
	if cfg.Background.DegradedAfter < 1 {
		fail("background.degraded_after", "must be at least 1")
	}
	for name, d := range map[string]int64{
		"background.refresh_interval":   int64(cfg.Background.RefreshInterval),
		"background.cleanup_interval":   int64(cfg.Background.CleanupInterval),
		"background.warmup_interval":    int64(cfg.Background.WarmupInterval),
		"background.telemetry_interval": int64(cfg.Background.TelemetryInterval),
	} {
		if d <= 0 {
			fail(name, "must be positive")
		}
	}

	switch cfg.TokenStorage.Backend {
	case "memory", "sqlite", "badger":
	case "redis":
		if cfg.Redis.Addr == "" {
			fail("redis.addr", "required for redis token backend")
		}
	case "file":
		if len(cfg.TokenStorage.EncryptionKey) < 16 {
			fail("token_storage.encryption_key", "file backend requires a key of at least 16 characters")
		}
	default:
		fail("token_storage.backend", "unknown backend %q", cfg.TokenStorage.Backend)
	}
	if cfg.TokenStorage.RefreshLeadTime <= 0 {
		fail("token_storage.refresh_lead_time", "must be positive")
	}
	if cfg.TokenStorage.TokenLifetime <= 0 {
		fail("token_storage.token_lifetime", "must be positive")
	}

	if u, err := url.Parse(cfg.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		fail("upstream.base_url", "must be an absolute URL, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.APIVersion == "" {
		fail("upstream.api_version", "must not be empty")
	}
	if cfg.Upstream.Timeout <= 0 {
		fail("upstream.timeout", "must be positive")
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			fail("redis.addr", "required for redis cache backend")
		}
	default:
		fail("cache.backend", "unknown backend %q", cfg.Cache.Backend)
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute < 1 {
		fail("rate_limit.requests_per_minute", "must be at least 1 when enabled")
	}
	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			fail("telemetry.exporter", "must be grpc or http, got %q", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			fail("telemetry.sampling_rate", "must be within [0,1]")
		}
	}

	return errors.Join(errs...)
}
