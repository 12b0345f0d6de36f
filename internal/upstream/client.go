// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package upstream is the client for the subscription TV API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/unchained/internal/config"
	"github.com/ManuGH/unchained/internal/device"
	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/ManuGH/unchained/internal/platform/httpx"
	"github.com/ManuGH/unchained/internal/vault"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	appVersion     = "4.0.27.0"
	osVersion      = "0.0.0"
	devicePlatform = "GO"
	maxBodyBytes   = 8 << 20
)

// Client talks to the upstream API. All calls share a rate limiter and a
// circuit breaker; Initialize runs once before the first call.
type Client struct {
	cfg      config.UpstreamConfig
	lifetime time.Duration
	devices  device.Provider
	breaker  *CircuitBreaker
	limiter  *rate.Limiter
	logger   zerolog.Logger

	init     singleflight.Group
	ready    atomic.Bool
	mu       sync.RWMutex
	http     *http.Client
	deviceID string
	now      func() time.Time
}

// New builds a client. lifetime is the validity assumed for issued access tokens.
func New(cfg config.UpstreamConfig, lifetime time.Duration, devices device.Provider) *Client {
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := max(cfg.RateLimitBurst, 1)
	return &Client{
		cfg:      cfg,
		lifetime: lifetime,
		devices:  devices,
		breaker:  NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		limiter:  rate.NewLimiter(limit, burst),
		logger:   xglog.WithComponent("upstream"),
		now:      time.Now,
	}
}

// Initialize performs one-time setup: device id resolution and HTTP client
// configuration. Concurrent first callers share a single execution and its
// result. A failed setup is not cached, so a later call retries.
func (c *Client) Initialize(ctx context.Context) error {
	if c.ready.Load() {
		return nil
	}
	_, err, _ := c.init.Do("init", func() (any, error) {
		if c.ready.Load() {
			return nil, nil
		}
		id, err := c.devices.DeviceID(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve device id: %w", err)
		}
		hc := httpx.WithTracing(httpx.WithUserAgent(httpx.NewClient(c.cfg.Timeout), c.cfg.UserAgent))

		c.mu.Lock()
		c.http = hc
		c.deviceID = id
		c.mu.Unlock()
		c.ready.Store(true)

		c.logger.Info().
			Str(xglog.FieldEvent, "upstream.initialized").
			Str(xglog.FieldBaseURL, c.cfg.BaseURL).
			Str(xglog.FieldDeviceID, xglog.MaskID(id)).
			Msg("upstream client initialized")
		return nil, nil
	})
	return err
}

// DeviceID returns the resolved device id (empty before Initialize).
func (c *Client) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// BreakerState exposes the circuit state for health checks.
func (c *Client) BreakerState() State { return c.breaker.State() }

func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.APIVersion + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	bearer string
	body   any
	out    any
}

// do runs one call through init, rate limiting and the breaker.
func (c *Client) do(ctx context.Context, cl call) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(cl.op, err)
	}
	return c.breaker.Execute(func() error { return c.roundTrip(ctx, cl) })
}

func (c *Client) roundTrip(ctx context.Context, cl call) error {
	var body io.Reader
	if cl.body != nil {
		buf, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", cl.op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.endpoint(cl.path, cl.query), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+cl.bearer)
	}

	c.mu.RLock()
	hc := c.http
	c.mu.RUnlock()

	start := c.now()
	resp, err := hc.Do(req)
	if err != nil {
		metrics.ObserveUpstreamCall(cl.op, 0, time.Since(start))
		return transportError(cl.op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveUpstreamCall(cl.op, resp.StatusCode, time.Since(start))

	c.logger.Debug().
		Str(xglog.FieldEvent, "upstream.call").
		Str("op", cl.op).
		Int(xglog.FieldStatus, resp.StatusCode).
		Int64(xglog.FieldDurationMS, time.Since(start).Milliseconds()).
		Msg("upstream call finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return statusError(cl.op, resp.StatusCode)
	}
	if cl.out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(cl.out); err != nil {
		return parseError(cl.op, err)
	}
	return nil
}

type tokenPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type tokenEnvelope struct {
	Success *bool         `json:"success"`
	Token   *tokenPayload `json:"token"`
}

// Login runs the two-step upstream login (device init, then credentials) and
// returns the resulting token record.
func (c *Client) Login(ctx context.Context, username, password string) (*vault.TokenRecord, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	deviceID := c.DeviceID()

	var initResp tokenEnvelope
	if err := c.do(ctx, call{
		op:     "auth.init",
		method: http.MethodPost,
		path:   "auth/init",
		query: url.Values{
			"dsid":           {deviceID},
			"deviceName":     {c.cfg.DeviceName},
			"deviceType":     {c.cfg.DeviceType},
			"osVersion":      {osVersion},
			"appVersion":     {appVersion},
			"language":       {strings.ToUpper(c.cfg.Language)},
			"devicePlatform": {devicePlatform},
		},
		out: &initResp,
	}); err != nil {
		return nil, err
	}
	if initResp.Token == nil || initResp.Token.AccessToken == "" {
		return nil, parseError("auth.init", fmt.Errorf("missing token.accessToken"))
	}

	var loginResp tokenEnvelope
	if err := c.do(ctx, call{
		op:     "auth.login",
		method: http.MethodPost,
		path:   "auth/login",
		bearer: initResp.Token.AccessToken,
		body: map[string]string{
			"loginOrNickname": username,
			"password":        password,
		},
		out: &loginResp,
	}); err != nil {
		return nil, err
	}
	if loginResp.Success == nil || !*loginResp.Success {
		return nil, &Error{Sentinel: ErrUnauthorized, Op: "auth.login"}
	}
	if loginResp.Token == nil || loginResp.Token.AccessToken == "" {
		return nil, parseError("auth.login", fmt.Errorf("missing token.accessToken"))
	}

	now := c.now()
	return &vault.TokenRecord{
		AccessToken:  loginResp.Token.AccessToken,
		RefreshToken: loginResp.Token.RefreshToken,
		ExpiresAt:    now.Add(c.lifetime),
		Username:     username,
		DeviceID:     deviceID,
		CreatedAt:    now,
	}, nil
}

// Logout invalidates the access token upstream.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return c.do(ctx, call{
		op:     "auth.logout",
		method: http.MethodPost,
		path:   "auth/logout",
		bearer: accessToken,
	})
}

// RefreshTokens exchanges a refresh token for a new grant.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (vault.Grant, error) {
	var resp tokenEnvelope
	if err := c.do(ctx, call{
		op:     "auth.refresh",
		method: http.MethodPost,
		path:   "auth/refresh",
		bearer: refreshToken,
		body:   map[string]string{"refreshToken": refreshToken},
		out:    &resp,
	}); err != nil {
		return vault.Grant{}, err
	}
	if resp.Token == nil || resp.Token.AccessToken == "" {
		return vault.Grant{}, parseError("auth.refresh", fmt.Errorf("missing token data"))
	}
	return vault.Grant{AccessToken: resp.Token.AccessToken, RefreshToken: resp.Token.RefreshToken}, nil
}
