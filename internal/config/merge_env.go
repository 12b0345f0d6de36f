// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

// mergeEnvConfig applies UNCHAINED_* overrides on top of cfg. Environment
// values win over both defaults and the YAML file.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = l.envString("DATA", cfg.DataDir)

	cfg.Server.Listen = l.envString("LISTEN", cfg.Server.Listen)
	cfg.Server.ReadTimeout = l.envDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = l.envDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = l.envDuration("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = l.envDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Metrics.Listen = l.envString("METRICS_LISTEN", cfg.Metrics.Listen)

	cfg.Auth.CookieName = l.envString("COOKIE_NAME", cfg.Auth.CookieName)
	cfg.Auth.SessionTTLMinutes = l.envInt("SESSION_TTL_MINUTES", cfg.Auth.SessionTTLMinutes)
	cfg.Auth.SecureCookies = l.envBool("SECURE_COOKIES", cfg.Auth.SecureCookies)
	cfg.Auth.SameSite = l.envString("SAME_SITE", cfg.Auth.SameSite)
	cfg.Auth.TouchInterval = l.envDuration("TOUCH_INTERVAL", cfg.Auth.TouchInterval)
	cfg.Auth.MaxSessionsPerUser = l.envInt("MAX_SESSIONS_PER_USER", cfg.Auth.MaxSessionsPerUser)
	cfg.Auth.AllowHeaderFallback = l.envBool("ALLOW_HEADER_FALLBACK", cfg.Auth.AllowHeaderFallback)

	cfg.Background.MaxQueueSize = l.envInt("MAX_QUEUE_SIZE", cfg.Background.MaxQueueSize)
	cfg.Background.Workers = l.envInt("QUEUE_WORKERS", cfg.Background.Workers)
	cfg.Background.ItemTimeout = l.envDuration("ITEM_TIMEOUT", cfg.Background.ItemTimeout)
	cfg.Background.MaxRetries = l.envInt("ITEM_MAX_RETRIES", cfg.Background.MaxRetries)
	cfg.Background.DegradedAfter = l.envInt("DEGRADED_AFTER", cfg.Background.DegradedAfter)
	cfg.Background.RefreshInterval = l.envDuration("REFRESH_INTERVAL", cfg.Background.RefreshInterval)
	cfg.Background.CleanupInterval = l.envDuration("CLEANUP_INTERVAL", cfg.Background.CleanupInterval)
	cfg.Background.WarmupInterval = l.envDuration("WARMUP_INTERVAL", cfg.Background.WarmupInterval)
	cfg.Background.TelemetryInterval = l.envDuration("TELEMETRY_INTERVAL", cfg.Background.TelemetryInterval)

	cfg.TokenStorage.Backend = l.envString("TOKEN_BACKEND", cfg.TokenStorage.Backend)
	cfg.TokenStorage.Path = l.envString("TOKEN_PATH", cfg.TokenStorage.Path)
	cfg.TokenStorage.EncryptionKey = l.envString("TOKEN_KEY", cfg.TokenStorage.EncryptionKey)
	cfg.TokenStorage.AutoLoad = l.envBool("TOKEN_AUTO_LOAD", cfg.TokenStorage.AutoLoad)
	cfg.TokenStorage.AutoSave = l.envBool("TOKEN_AUTO_SAVE", cfg.TokenStorage.AutoSave)
	cfg.TokenStorage.RefreshLeadTime = l.envDuration("REFRESH_LEAD_TIME", cfg.TokenStorage.RefreshLeadTime)
	cfg.TokenStorage.TokenLifetime = l.envDuration("TOKEN_LIFETIME", cfg.TokenStorage.TokenLifetime)

	cfg.Upstream.BaseURL = l.envString("UPSTREAM_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.APIVersion = l.envString("UPSTREAM_API_VERSION", cfg.Upstream.APIVersion)
	cfg.Upstream.Timeout = l.envDuration("UPSTREAM_TIMEOUT", cfg.Upstream.Timeout)
	cfg.Upstream.UserAgent = l.envString("UPSTREAM_USER_AGENT", cfg.Upstream.UserAgent)
	cfg.Upstream.DeviceName = l.envString("UPSTREAM_DEVICE_NAME", cfg.Upstream.DeviceName)
	cfg.Upstream.DeviceType = l.envString("UPSTREAM_DEVICE_TYPE", cfg.Upstream.DeviceType)
	cfg.Upstream.Language = l.envString("UPSTREAM_LANGUAGE", cfg.Upstream.Language)
	cfg.Upstream.RateLimitRPS = l.envFloat("UPSTREAM_RATE_LIMIT_RPS", cfg.Upstream.RateLimitRPS)

	cfg.Cache.Backend = l.envString("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.ChannelsTTL = l.envDuration("CACHE_CHANNELS_TTL", cfg.Cache.ChannelsTTL)

	cfg.Redis.Addr = l.envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("REDIS_DB", cfg.Redis.DB)

	cfg.RateLimit.Enabled = l.envBool("RATELIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RequestsPerMinute = l.envInt("RATELIMIT_RPM", cfg.RateLimit.RequestsPerMinute)
	cfg.RateLimit.Whitelist = l.envList("RATELIMIT_WHITELIST", cfg.RateLimit.Whitelist)

	cfg.Telemetry.Enabled = l.envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
