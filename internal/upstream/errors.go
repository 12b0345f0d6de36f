// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthorized = errors.New("upstream: credentials rejected")
	ErrNotFound     = errors.New("upstream: resource not found")
	ErrRejected     = errors.New("upstream: request rejected (4xx)")
	ErrUnavailable  = errors.New("upstream: host unreachable or transport failure")
	ErrUpstream     = errors.New("upstream: internal error (5xx)")
	ErrBadResponse  = errors.New("upstream: invalid response format or malformed data")
	ErrTimeout      = errors.New("upstream: request timed out")
)

// Error wraps a sentinel with the operation and HTTP status that produced it.
type Error struct {
	Sentinel error
	Op       string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("upstream: %s: %v", e.Op, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Sentinel, e.Err}
	}
	return []error{e.Sentinel}
}

func statusError(op string, status int) error {
	var sentinel error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case status == http.StatusNotFound:
		sentinel = ErrNotFound
	case status >= 500:
		sentinel = ErrUpstream
	default:
		sentinel = ErrRejected
	}
	return &Error{Sentinel: sentinel, Op: op, Status: status}
}

func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Sentinel: ErrTimeout, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Sentinel: ErrUnavailable, Op: op, Err: err}
}

func parseError(op string, err error) error {
	return &Error{Sentinel: ErrBadResponse, Op: op, Err: err}
}

// isOutage reports whether err says the upstream itself is unhealthy, as
// opposed to rejecting this particular request.
func isOutage(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUpstream) || errors.Is(err, ErrTimeout)
}
