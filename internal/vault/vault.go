// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vault stores upstream credentials per session and refreshes them.
package vault

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRefreshFailed classifies every failed refresh. The stored record is
	// never modified when it is returned.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoRecord is returned when an operation needs a stored record.
	ErrNoRecord = errors.New("no token record")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown token storage backend")
	// ErrCorrupt is returned when a stored record cannot be decoded or authenticated.
	ErrCorrupt = errors.New("token record corrupt")
	// ErrEmptyKey is returned for a blank key.
	ErrEmptyKey = errors.New("token key must not be empty")
	// ErrRecordChanged is returned when another writer replaced or cleared
	// the record while a refresh was in flight.
	ErrRecordChanged = errors.New("token record changed concurrently")
)

// TokenRecord is the upstream credential set for one session.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
	DeviceID     string    `json:"device_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsValid reports whether the access token is present and not yet expired.
func (r *TokenRecord) IsValid(now time.Time) bool {
	return r != nil && r.AccessToken != "" && now.Before(r.ExpiresAt)
}

// ExpiresWithin reports whether the record expires before now+d.
func (r *TokenRecord) ExpiresWithin(now time.Time, d time.Duration) bool {
	return r != nil && !r.ExpiresAt.After(now.Add(d))
}

// Equal reports whether r and o hold the same credential state.
func (r *TokenRecord) Equal(o *TokenRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.AccessToken == o.AccessToken &&
		r.RefreshToken == o.RefreshToken &&
		r.Username == o.Username &&
		r.DeviceID == o.DeviceID &&
		r.ExpiresAt.Equal(o.ExpiresAt) &&
		r.CreatedAt.Equal(o.CreatedAt)
}

// Clone returns an independent copy.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Vault is durable per-key credential storage. Load returns (nil, nil) when
// no record exists; Clear of an absent key is not an error.
type Vault interface {
	Load(ctx context.Context, key string) (*TokenRecord, error)
	Save(ctx context.Context, key string, rec *TokenRecord) error
	Clear(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// retention keeps records around after access expiry so the refresh token
// stays usable.
const retention = 7 * 24 * time.Hour

func ttlFor(rec *TokenRecord, now time.Time) time.Duration {
	d := rec.ExpiresAt.Sub(now) + retention
	if d < time.Minute {
		d = time.Minute
	}
	return d
}
