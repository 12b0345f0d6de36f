// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a work item.
type Status int32

const (
	StatusQueued Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusRetrying
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Action is the unit of background work. It must honour ctx cancellation.
type Action func(ctx context.Context) error

// WorkItem is a schedulable unit of background work. Higher Priority runs
// first; ties run in CreatedAt order.
type WorkItem struct {
	ID           string
	Name         string
	Owner        string // background service the item reports to
	Priority     int
	CreatedAt    time.Time
	ScheduledFor time.Time // zero means runnable immediately
	MaxAttempts  int
	Action       Action

	attempts  atomic.Int32
	status    atomic.Int32
	cancelled atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	delay time.Duration
	seq   uint64
	index int
}

// Option configures a new WorkItem.
type Option func(*WorkItem)

// WithPriority sets the item priority.
func WithPriority(p int) Option { return func(w *WorkItem) { w.Priority = p } }

// WithOwner attributes the item to a background service.
func WithOwner(owner string) Option { return func(w *WorkItem) { w.Owner = owner } }

// WithDelay makes the item eligible no earlier than CreatedAt+d, using the
// final CreatedAt regardless of option order. It overrides WithScheduledFor.
func WithDelay(d time.Duration) Option { return func(w *WorkItem) { w.delay = d } }

// WithScheduledFor makes the item eligible no earlier than t.
func WithScheduledFor(t time.Time) Option { return func(w *WorkItem) { w.ScheduledFor = t } }

// WithMaxAttempts bounds retries; 1 means no retry.
func WithMaxAttempts(n int) Option { return func(w *WorkItem) { w.MaxAttempts = n } }

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(t time.Time) Option { return func(w *WorkItem) { w.CreatedAt = t } }

// NewItem builds a queued WorkItem with a time-sortable id.
func NewItem(name string, action Action, opts ...Option) *WorkItem {
	w := &WorkItem{
		ID:          ulid.Make().String(),
		Name:        name,
		CreatedAt:   time.Now(),
		MaxAttempts: 1,
		Action:      action,
		index:       -1,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.delay > 0 {
		w.ScheduledFor = w.CreatedAt.Add(w.delay)
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	return w
}

// Status returns the current lifecycle state.
func (w *WorkItem) Status() Status { return Status(w.status.Load()) }

// SetStatus records a lifecycle transition.
func (w *WorkItem) SetStatus(s Status) { w.status.Store(int32(s)) }

// Attempts returns how many times the action has been started.
func (w *WorkItem) Attempts() int { return int(w.attempts.Load()) }

// BeginAttempt marks the item running and returns a context that Cancel aborts.
func (w *WorkItem) BeginAttempt(parent context.Context) (context.Context, context.CancelFunc) {
	w.attempts.Add(1)
	w.SetStatus(StatusRunning)
	ctx, cancel := context.WithCancel(parent)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	if w.cancelled.Load() {
		cancel()
	}
	return ctx, cancel
}

// Cancel requests cooperative cancellation. A queued item is dropped at
// dequeue; a running item sees its context cancelled.
func (w *WorkItem) Cancel() {
	w.cancelled.Store(true)
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (w *WorkItem) Cancelled() bool { return w.cancelled.Load() }

// CanRetry reports whether another attempt is allowed.
func (w *WorkItem) CanRetry() bool { return w.Attempts() < w.MaxAttempts && !w.Cancelled() }

// ItemInfo is a read-only view of a work item for snapshots.
type ItemInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Owner        string    `json:"owner,omitempty"`
	Priority     int       `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	ScheduledFor time.Time `json:"scheduled_for,omitzero"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
}

// Info returns a snapshot of the item.
func (w *WorkItem) Info() ItemInfo {
	return ItemInfo{
		ID:           w.ID,
		Name:         w.Name,
		Owner:        w.Owner,
		Priority:     w.Priority,
		CreatedAt:    w.CreatedAt,
		ScheduledFor: w.ScheduledFor,
		Status:       w.Status().String(),
		Attempts:     w.Attempts(),
	}
}
