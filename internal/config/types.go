// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the fully resolved runtime configuration.
// Field tags double as the strict YAML schema.
type AppConfig struct {
	Version  string `yaml:"-"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	Server       ServerConfig       `yaml:"server"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Auth         AuthConfig         `yaml:"auth"`
	Background   BackgroundConfig   `yaml:"background"`
	TokenStorage TokenStorageConfig `yaml:"token_storage"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Cache        CacheConfig        `yaml:"cache"`
	Redis        RedisConfig        `yaml:"redis"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig controls the public HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig controls the optional dedicated Prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the listener
}

// AuthConfig controls sessions and the session cookie.
type AuthConfig struct {
	CookieName          string        `yaml:"cookie_name"`
	SessionTTLMinutes   int           `yaml:"session_ttl_minutes"`
	SecureCookies       bool          `yaml:"secure_cookies"`
	SameSite            string        `yaml:"same_site"`
	TouchInterval       time.Duration `yaml:"touch_interval"`
	MaxSessionsPerUser  int           `yaml:"max_sessions_per_user"`
	AllowHeaderFallback bool          `yaml:"allow_header_fallback"`
}

// SessionTTL returns the configured session lifetime.
func (a AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLMinutes) * time.Minute
}

// BackgroundConfig controls the work queue, dispatcher and periodic workers.
type BackgroundConfig struct {
	MaxQueueSize      int           `yaml:"max_queue_size"`
	Workers           int           `yaml:"workers"`
	ItemTimeout       time.Duration `yaml:"item_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	DegradedAfter     int           `yaml:"degraded_after"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	WarmupInterval    time.Duration `yaml:"warmup_interval"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

// TokenStorageConfig selects and configures the token vault backend.
type TokenStorageConfig struct {
	Backend         string        `yaml:"backend"`
	Path            string        `yaml:"path"`
	EncryptionKey   string        `yaml:"encryption_key"`
	AutoLoad        bool          `yaml:"auto_load"`
	AutoSave        bool          `yaml:"auto_save"`
	RefreshLeadTime time.Duration `yaml:"refresh_lead_time"`
	TokenLifetime   time.Duration `yaml:"token_lifetime"`
}

// UpstreamConfig describes the subscription TV API.
type UpstreamConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIVersion       string        `yaml:"api_version"`
	Timeout          time.Duration `yaml:"timeout"`
	UserAgent        string        `yaml:"user_agent"`
	DeviceName       string        `yaml:"device_name"`
	DeviceType       string        `yaml:"device_type"`
	Language         string        `yaml:"language"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// CacheConfig selects the upstream response cache backend.
type CacheConfig struct {
	Backend     string        `yaml:"backend"`
	ChannelsTTL time.Duration `yaml:"channels_ttl"`
}

// RedisConfig is shared by the redis vault and cache backends.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig controls the inbound HTTP rate limiter.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Whitelist         []string `yaml:"whitelist"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc | http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}
