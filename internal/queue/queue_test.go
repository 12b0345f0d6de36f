// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func noop(context.Context) error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func dequeueNow(t *testing.T, q *Queue) *WorkItem {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	it, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return it
}

func TestOrderingPriorityThenCreatedAt(t *testing.T) {
	clk := newFakeClock()
	q := New(10, WithClock(clk.Now))
	t0 := clk.Now()

	a := NewItem("A", noop, WithPriority(5), WithCreatedAt(t0))
	b := NewItem("B", noop, WithPriority(10), WithCreatedAt(t0.Add(time.Millisecond)))
	c := NewItem("C", noop, WithPriority(5), WithCreatedAt(t0.Add(2*time.Millisecond)))
	for _, it := range []*WorkItem{a, b, c} {
		require.NoError(t, q.Enqueue(it))
	}

	var got []string
	for range 3 {
		got = append(got, dequeueNow(t, q).Name)
	}
	assert.Equal(t, []string{"B", "A", "C"}, got)
}

func TestEqualPriorityAndTimestampIsFIFO(t *testing.T) {
	q := New(10)
	ts := time.Now()
	for _, n := range []string{"x", "y", "z"} {
		require.NoError(t, q.Enqueue(NewItem(n, noop, WithCreatedAt(ts))))
	}
	assert.Equal(t, "x", dequeueNow(t, q).Name)
	assert.Equal(t, "y", dequeueNow(t, q).Name)
	assert.Equal(t, "z", dequeueNow(t, q).Name)
}

func TestCapacityRejectsAndLeavesQueueUnchanged(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(NewItem("one", noop)))
	require.NoError(t, q.Enqueue(NewItem("two", noop)))

	before := q.Snapshot()
	err := q.Enqueue(NewItem("three", noop))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.ElementsMatch(t, before, q.Snapshot())
}

func TestInFlightHoldsSlotUntilComplete(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(NewItem("one", noop)))
	it := dequeueNow(t, q)

	require.ErrorIs(t, q.Enqueue(NewItem("two", noop)), ErrQueueFull)
	require.NoError(t, q.Complete(it, StatusCompleted))
	assert.Equal(t, StatusCompleted, it.Status())
	require.NoError(t, q.Enqueue(NewItem("two", noop)))

	assert.ErrorIs(t, q.Complete(it, StatusCompleted), ErrNotInFlight)
}

func TestDelayResolvedAgainstFinalCreatedAt(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		opts []Option
		want time.Time
	}{
		{name: "delay before created-at", opts: []Option{WithDelay(time.Minute), WithCreatedAt(t0)}, want: t0.Add(time.Minute)},
		{name: "delay after created-at", opts: []Option{WithCreatedAt(t0), WithDelay(time.Minute)}, want: t0.Add(time.Minute)},
		{name: "delay overrides scheduled-for", opts: []Option{WithCreatedAt(t0), WithDelay(time.Minute), WithScheduledFor(t0.Add(time.Hour))}, want: t0.Add(time.Minute)},
		{name: "no delay", opts: []Option{WithCreatedAt(t0)}, want: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewItem("x", noop, tt.opts...).ScheduledFor)
		})
	}
}

func TestDelayedItemNotReturnedBeforeDue(t *testing.T) {
	clk := newFakeClock()
	q := New(10, WithClock(clk.Now))

	require.NoError(t, q.Enqueue(NewItem("later", noop, WithCreatedAt(clk.Now()), WithDelay(time.Hour))))
	require.NoError(t, q.Enqueue(NewItem("now", noop, WithPriority(-5))))

	assert.Equal(t, "now", dequeueNow(t, q).Name, "due low-priority item beats undue high-priority one")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	clk.Advance(time.Hour)
	assert.Equal(t, "later", dequeueNow(t, q).Name)
}

func TestDelayedItemWakesConsumer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := New(10)
	start := time.Now()
	require.NoError(t, q.Enqueue(NewItem("soon", noop, WithDelay(40*time.Millisecond))))

	it := dequeueNow(t, q)
	assert.Equal(t, "soon", it.Name)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := New(10)
	got := make(chan string, 1)
	go func() {
		it, err := q.Dequeue(context.Background())
		if err == nil {
			got <- it.Name
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before any enqueue")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, q.Enqueue(NewItem("wake", noop)))
	select {
	case name := <-got:
		assert.Equal(t, "wake", name)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestDequeueHonoursCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errc <- err
	}()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestManyConsumersAllWake(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := New(100)
	const n = 8
	var wg sync.WaitGroup
	results := make(chan string, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if it, err := q.Dequeue(ctx); err == nil {
				results <- it.ID
			}
		}()
	}
	for range n {
		require.NoError(t, q.Enqueue(NewItem("w", noop)))
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for id := range results {
		assert.False(t, seen[id], "item handed out twice")
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestRetryKeepsSlotAndDelays(t *testing.T) {
	clk := newFakeClock()
	q := New(1, WithClock(clk.Now))
	require.NoError(t, q.Enqueue(NewItem("flaky", noop, WithMaxAttempts(3))))

	it := dequeueNow(t, q)
	require.NoError(t, q.Retry(it, time.Minute))
	assert.Equal(t, StatusRetrying, it.Status())
	assert.Equal(t, 1, q.Len())
	require.ErrorIs(t, q.Enqueue(NewItem("other", noop)), ErrQueueFull)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Delayed)

	clk.Advance(time.Minute)
	assert.Same(t, it, dequeueNow(t, q))
}

func TestCancelledItemIsDropped(t *testing.T) {
	q := New(10)
	doomed := NewItem("doomed", noop, WithPriority(100))
	require.NoError(t, q.Enqueue(doomed))
	require.NoError(t, q.Enqueue(NewItem("kept", noop)))
	doomed.Cancel()

	assert.Equal(t, "kept", dequeueNow(t, q).Name)
	assert.Equal(t, StatusCancelled, doomed.Status())
	assert.Equal(t, 1, q.Len())
}

func TestSnapshotIsReadOnly(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Enqueue(NewItem("a", noop)))
	require.NoError(t, q.Enqueue(NewItem("b", noop, WithDelay(time.Hour))))

	first := q.Snapshot()
	second := q.Snapshot()
	assert.Len(t, first, 2)
	assert.ElementsMatch(t, first, second)
	assert.Equal(t, 2, q.Len())
}

func TestCloseDropsPendingAndUnblocks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := New(10)
	pending := NewItem("pending", noop, WithDelay(time.Hour))
	require.NoError(t, q.Enqueue(pending))

	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errc <- err
	}()
	// Ensure the consumer is parked on the delayed timer before closing.
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, q.Close())
	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.Equal(t, StatusCancelled, pending.Status())
	assert.ErrorIs(t, q.Enqueue(NewItem("late", noop)), ErrClosed)
}

func TestEnqueueRejectsNilAction(t *testing.T) {
	q := New(1)
	assert.ErrorIs(t, q.Enqueue(NewItem("empty", nil)), ErrNilAction)
	assert.ErrorIs(t, q.Enqueue(nil), ErrNilAction)
}
