// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/unchained/internal/events"
	"github.com/ManuGH/unchained/internal/queue"
)

func TestDispatcherRunsInPriorityOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := queue.New(10)
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	add := func(name string, prio int) {
		wg.Add(1)
		require.NoError(t, q.Enqueue(queue.NewItem(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			wg.Done()
			return nil
		}, queue.WithPriority(prio))))
	}
	add("telemetry", PriorityTelemetry)
	add("cleanup", PrioritySessionCleanup)
	add("refresh", PriorityTokenRefresh)

	d := NewDispatcher(q, DispatcherConfig{Workers: 1}, nil)
	require.NoError(t, d.Start(context.Background()))
	wg.Wait()
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, []string{"refresh", "cleanup", "telemetry"}, order)
	assert.Zero(t, q.Len(), "completed items release their slots")
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := queue.New(5)
	var calls atomic.Int32
	done := make(chan struct{})
	item := queue.NewItem("flaky", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errBoom
		}
		close(done)
		return nil
	}, queue.WithMaxAttempts(3))
	require.NoError(t, q.Enqueue(item))

	d := NewDispatcher(q, DispatcherConfig{Workers: 2, RetryBackoff: time.Millisecond}, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("item never succeeded")
	}
	assert.Eventually(t, func() bool { return item.Status() == queue.StatusCompleted }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, item.Attempts())
}

func TestDispatcherRecoversPanicAndReportsFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := queue.New(5)
	bus := &recorder{}
	d := NewDispatcher(q, DispatcherConfig{Workers: 1}, bus)
	o := NewOrchestrator(q, d, bus, WithDegradedAfter(1))
	o.Register(&stubService{name: "owner", log: &callLog{}}, false)
	require.NoError(t, o.StartService(context.Background(), "owner"))
	require.NoError(t, o.StartService(context.Background(), NameDispatcher))
	defer o.StopAll(context.Background())

	item := queue.NewItem("explodes", func(context.Context) error { panic("kaboom") }, queue.WithOwner("owner"))
	require.NoError(t, q.Enqueue(item))

	assert.Eventually(t, func() bool { return item.Status() == queue.StatusFailed }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, info := range o.AllServicesInfo() {
			if info.Name == "owner" {
				return info.Status == StatusDegraded
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		done := bus.kinds(events.WorkItemCompleted)
		return len(done) == 1 && !done[0].Success && done[0].Error != ""
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherItemTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := queue.New(5)
	item := queue.NewItem("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, q.Enqueue(item))

	d := NewDispatcher(q, DispatcherConfig{Workers: 1, ItemTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	assert.Eventually(t, func() bool { return item.Status() == queue.StatusFailed }, time.Second, 5*time.Millisecond)
}

func TestDispatcherStopIsPromptAndIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := NewDispatcher(queue.New(1), DispatcherConfig{Workers: 4}, nil)
	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	require.NoError(t, d.Stop(ctx))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d := NewDispatcher(queue.New(1), DispatcherConfig{RetryBackoff: time.Second}, nil)
	assert.Equal(t, time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, maxRetryBackoff, d.backoff(30))
}
