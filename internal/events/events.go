// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events is a fire-and-forget in-process notification bus.
package events

import "time"

// Kind names an event type.
type Kind string

const (
	UserLoggedIn         Kind = "user.logged_in"
	UserLoggedOut        Kind = "user.logged_out"
	TokensRefreshed      Kind = "tokens.refreshed"
	SessionExpired       Kind = "session.expired"
	WorkItemStarted      Kind = "work_item.started"
	WorkItemCompleted    Kind = "work_item.completed"
	ServiceHealthChanged Kind = "service.health_changed"
)

// Logout reasons.
const (
	ReasonVoluntary = "Voluntary"
	ReasonRevoked   = "Revoked"
	ReasonOther     = "LoggedOutElsewhere"
)

// Event is one notification. Fields not relevant to a Kind stay empty.
type Event struct {
	Kind      Kind          `json:"kind"`
	Time      time.Time     `json:"time"`
	Username  string        `json:"username,omitempty"`
	SessionID string        `json:"-"`
	Reason    string        `json:"reason,omitempty"`
	Service   string        `json:"service,omitempty"`
	OldStatus string        `json:"old_status,omitempty"`
	NewStatus string        `json:"new_status,omitempty"`
	WorkItem  string        `json:"work_item,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}
