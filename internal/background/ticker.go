// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/rs/zerolog"
)

// ticker is the producer loop shared by the periodic workers: it calls tick
// once on start and then every interval until stopped.
type ticker struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newTicker(name string, interval time.Duration, tick func(ctx context.Context)) *ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ticker{name: name, interval: interval, tick: tick}
}

func (t *ticker) start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, t.name)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, t.done)
	return nil
}

func (t *ticker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	logger := xglog.WithComponent("background").With().Str(xglog.FieldService, t.name).Logger()
	logger.Info().Str(xglog.FieldEvent, "worker.started").Dur("interval", t.interval).Msg("worker started")

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Str(xglog.FieldEvent, "worker.stopped").Msg("worker stopped")
			return
		case <-tk.C:
			t.tick(ctx)
		}
	}
}

func (t *ticker) stop(ctx context.Context) error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", t.name, ctx.Err())
	}
}

// enqueue submits item and reports whether the tick should continue.
// A full queue is backpressure: it is logged and the rest of the tick skipped.
func enqueue(q *queue.Queue, item *queue.WorkItem, logger zerolog.Logger) bool {
	err := q.Enqueue(item)
	switch {
	case err == nil:
		return true
	case errors.Is(err, queue.ErrQueueFull):
		logger.Warn().
			Str(xglog.FieldEvent, "queue.backpressure").
			Str("work_item", item.Name).
			Msg("queue full, skipping this tick")
	default:
		logger.Debug().Err(err).Str("work_item", item.Name).Msg("enqueue refused")
	}
	return false
}
