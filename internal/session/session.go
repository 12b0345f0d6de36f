// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session holds the in-memory registry of authenticated sessions.
package session

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateID is returned when id generation keeps colliding.
	ErrDuplicateID = errors.New("session id collision")
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrEmptyUsername is returned by Create for a blank username.
	ErrEmptyUsername = errors.New("username must not be empty")
)

// Session is a value snapshot of one authenticated client session.
type Session struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	TokenKey       string    `json:"-"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// IsExpired reports whether now is at or past ExpiresAt.
func (s Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Statistics summarises the store.
type Statistics struct {
	ActiveSessions  int       `json:"active_sessions"`
	ExpiredSessions int       `json:"expired_sessions"`
	UniqueUsers     int       `json:"unique_users"`
	LastCleanup     time.Time `json:"last_cleanup,omitzero"`
}
