// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"fmt"
	"time"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Grant is a fresh credential pair issued by the upstream.
type Grant struct {
	AccessToken  string
	RefreshToken string
}

// Renewer exchanges a refresh token for a new grant.
type Renewer interface {
	RefreshTokens(ctx context.Context, refreshToken string) (Grant, error)
}

// Refresher runs the refresh flow against a Renewer.
type Refresher struct {
	vault    *Locked
	renewer  Renewer
	lifetime time.Duration
	now      func() time.Time
	logger   zerolog.Logger
	flight   singleflight.Group
}

// NewRefresher builds a refresher. lifetime is the validity assumed for a
// newly issued access token.
func NewRefresher(v *Locked, r Renewer, lifetime time.Duration) *Refresher {
	return &Refresher{
		vault:    v,
		renewer:  r,
		lifetime: lifetime,
		now:      time.Now,
		logger:   xglog.WithComponent("vault"),
	}
}

// Refresh exchanges current's refresh token for a new record. On any failure
// it returns (nil, err wrapping ErrRefreshFailed); a nil record means the
// user must re-authenticate. It never touches the vault.
func (r *Refresher) Refresh(ctx context.Context, current *TokenRecord) (*TokenRecord, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}
	grant, err := r.renewer.RefreshTokens(ctx, current.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("%w: upstream returned empty access token", ErrRefreshFailed)
	}

	now := r.now()
	next := &TokenRecord{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    now.Add(r.lifetime),
		Username:     current.Username,
		DeviceID:     current.DeviceID,
		CreatedAt:    now,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	return next, nil
}

// RefreshAndStore refreshes the record stored under key and saves the result
// if no other writer replaced or cleared it meanwhile. Concurrent calls for
// the same key share one upstream exchange. On failure the stored record is
// left exactly as it was.
func (r *Refresher) RefreshAndStore(ctx context.Context, key string) (*TokenRecord, error) {
	logger := xglog.WithContext(ctx, r.logger)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.refreshAndStore(ctx, key)
	})
	var rec *TokenRecord
	if err == nil {
		rec = v.(*TokenRecord).Clone()
	}
	metrics.RecordTokenRefresh(err == nil)
	if err != nil {
		logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "token.refresh_failed").
			Str(xglog.FieldSessionID, xglog.MaskID(key)).
			Msg("token refresh failed, re-authentication required")
		return nil, err
	}
	logger.Info().
		Str(xglog.FieldEvent, "token.refreshed").
		Str(xglog.FieldSessionID, xglog.MaskID(key)).
		Time("expires_at", rec.ExpiresAt).
		Msg("tokens refreshed")
	return rec, nil
}

func (r *Refresher) refreshAndStore(ctx context.Context, key string) (*TokenRecord, error) {
	cur, err := r.vault.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoRecord)
	}
	next, err := r.Refresh(ctx, cur)
	if err != nil {
		return nil, err
	}
	swapped, err := r.vault.CompareAndSwap(ctx, key, cur, next)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrRecordChanged)
	}
	return next, nil
}
