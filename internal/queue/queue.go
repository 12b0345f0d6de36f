// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue implements the bounded, priority-ordered, delay-aware work
// queue that feeds the background dispatcher.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("background task queue is full")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue closed")
	// ErrNilAction is returned when an item carries no action.
	ErrNilAction = errors.New("work item has no action")
	// ErrNotInFlight is returned when completing an item the queue did not hand out.
	ErrNotInFlight = errors.New("work item is not in flight")
)

// Clock returns the current time. Tests inject a controllable one.
type Clock func() time.Time

// Queue is a bounded priority queue with delayed scheduling.
//
// Occupancy counts ready, delayed and in-flight items: a slot is taken on
// Enqueue and released only by Complete (or Close). Retry keeps the slot.
type Queue struct {
	mu       sync.Mutex
	ready    readyHeap
	delayed  delayedHeap
	inFlight map[*WorkItem]struct{}
	capacity int
	seq      uint64
	closed   bool
	notify   chan struct{}

	now    Clock
	logger zerolog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock replaces time.Now.
func WithClock(c Clock) QueueOption { return func(q *Queue) { q.now = c } }

// New creates a queue holding at most capacity items.
func New(capacity int, opts ...QueueOption) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		inFlight: make(map[*WorkItem]struct{}),
		capacity: capacity,
		notify:   make(chan struct{}),
		now:      time.Now,
		logger:   xglog.WithComponent("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	metrics.SetQueueCapacity(capacity)
	return q
}

// signal wakes every waiter; callers hold q.mu.
func (q *Queue) signal() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *Queue) countLocked() int {
	return len(q.ready) + len(q.delayed) + len(q.inFlight)
}

func (q *Queue) publishLocked() {
	metrics.SetQueueDepth(len(q.ready), len(q.delayed), len(q.inFlight))
}

// Enqueue adds an item. It fails with ErrQueueFull when the queue is at
// capacity, leaving the queue unchanged.
func (q *Queue) Enqueue(item *WorkItem) error {
	if item == nil || item.Action == nil {
		return ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.countLocked() >= q.capacity {
		metrics.IncQueueRejected()
		q.logger.Warn().
			Str(xglog.FieldEvent, "queue.full").
			Str("name", item.Name).
			Int("capacity", q.capacity).
			Msg("work item rejected, queue at capacity")
		return ErrQueueFull
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = q.now()
	}
	q.seq++
	item.seq = q.seq
	item.SetStatus(StatusQueued)

	if item.ScheduledFor.After(q.now()) {
		heap.Push(&q.delayed, item)
	} else {
		heap.Push(&q.ready, item)
	}
	q.publishLocked()
	q.signal()
	return nil
}

// promoteLocked moves every due delayed item to the ready heap and returns
// the time until the next delayed item becomes due (0 if none).
func (q *Queue) promoteLocked(now time.Time) time.Duration {
	for len(q.delayed) > 0 {
		head := q.delayed[0]
		if head.ScheduledFor.After(now) {
			return head.ScheduledFor.Sub(now)
		}
		heap.Pop(&q.delayed)
		heap.Push(&q.ready, head)
	}
	return 0
}

// Dequeue blocks until an item is due, ctx is done, or the queue is closed.
// The returned item is in flight until Complete or Retry is called.
func (q *Queue) Dequeue(ctx context.Context) (*WorkItem, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}

		wait := q.promoteLocked(q.now())
		for len(q.ready) > 0 {
			item := heap.Pop(&q.ready).(*WorkItem)
			if item.Cancelled() {
				item.SetStatus(StatusCancelled)
				metrics.ObserveWorkItem(item.Name, "cancelled", 0)
				continue
			}
			q.inFlight[item] = struct{}{}
			q.publishLocked()
			q.mu.Unlock()
			return item, nil
		}
		q.publishLocked()
		notify := q.notify
		q.mu.Unlock()

		var timerC <-chan time.Time
		var timer *time.Timer
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-notify:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Complete releases the slot of an in-flight item and records its final status.
func (q *Queue) Complete(item *WorkItem, final Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[item]; !ok {
		return ErrNotInFlight
	}
	delete(q.inFlight, item)
	item.SetStatus(final)
	q.publishLocked()
	return nil
}

// Retry puts an in-flight item back as delayed by d, keeping its slot.
func (q *Queue) Retry(item *WorkItem, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[item]; !ok {
		return ErrNotInFlight
	}
	delete(q.inFlight, item)
	if q.closed {
		item.SetStatus(StatusCancelled)
		q.publishLocked()
		return ErrClosed
	}

	item.ScheduledFor = q.now().Add(d)
	item.SetStatus(StatusRetrying)
	q.seq++
	item.seq = q.seq
	if d > 0 {
		heap.Push(&q.delayed, item)
	} else {
		heap.Push(&q.ready, item)
	}
	q.publishLocked()
	q.signal()
	return nil
}

// Close rejects further work and cancels every pending item. In-flight items
// finish normally. It returns the number of pending items dropped.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	dropped := len(q.ready) + len(q.delayed)
	for _, it := range q.ready {
		it.SetStatus(StatusCancelled)
	}
	for _, it := range q.delayed {
		it.SetStatus(StatusCancelled)
	}
	q.ready = nil
	q.delayed = nil
	q.publishLocked()
	q.signal()

	if dropped > 0 {
		q.logger.Info().
			Str(xglog.FieldEvent, "queue.closed").
			Int("dropped", dropped).
			Msg("queue closed with pending items")
	}
	return dropped
}

// Len returns the number of occupied slots.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countLocked()
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int { return q.capacity }

// Stats is a point-in-time occupancy breakdown.
type Stats struct {
	Ready    int `json:"ready"`
	Delayed  int `json:"delayed"`
	InFlight int `json:"in_flight"`
	Capacity int `json:"capacity"`
}

// Stats returns the current occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:    len(q.ready),
		Delayed:  len(q.delayed),
		InFlight: len(q.inFlight),
		Capacity: q.capacity,
	}
}

// Snapshot returns a copy of every occupied slot. It does not mutate the
// queue and its order is unspecified.
func (q *Queue) Snapshot() []ItemInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ItemInfo, 0, q.countLocked())
	for _, it := range q.ready {
		out = append(out, it.Info())
	}
	for _, it := range q.delayed {
		out = append(out, it.Info())
	}
	for it := range q.inFlight {
		out = append(out, it.Info())
	}
	return out
}
