// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Default values. Exported where other packages need to agree on them.
const (
	DefaultCookieName        = "Unchained.Session"
	DefaultSessionTTLMinutes = 480
	DefaultMaxQueueSize      = 1000
	DefaultDataDir           = "/var/lib/unchained"
)

// Defaults returns the configuration used before file and environment overrides.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  DefaultDataDir,
		Server: ServerConfig{
			Listen:          ":5000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			CookieName:          DefaultCookieName,
			SessionTTLMinutes:   DefaultSessionTTLMinutes,
			SecureCookies:       true,
			SameSite:            "lax",
			AllowHeaderFallback: true,
		},
		Background: BackgroundConfig{
			MaxQueueSize:      DefaultMaxQueueSize,
			Workers:           2,
			ItemTimeout:       30 * time.Second,
			MaxRetries:        3,
			RetryBackoff:      2 * time.Second,
			DegradedAfter:     3,
			RefreshInterval:   time.Minute,
			CleanupInterval:   5 * time.Minute,
			WarmupInterval:    15 * time.Minute,
			TelemetryInterval: time.Minute,
		},
		TokenStorage: TokenStorageConfig{
			Backend:         "memory",
			AutoLoad:        true,
			AutoSave:        true,
			RefreshLeadTime: 10 * time.Minute,
			TokenLifetime:   24 * time.Hour,
		},
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.example.tv",
			APIVersion:       "v2",
			Timeout:          15 * time.Second,
			UserAgent:        "unchained/1.0",
			DeviceName:       "Unchained Gateway",
			DeviceType:       "WEB",
			Language:         "en",
			RateLimitRPS:     5,
			RateLimitBurst:   10,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			ChannelsTTL: time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
