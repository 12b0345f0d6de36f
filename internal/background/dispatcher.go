// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ManuGH/unchained/internal/events"
	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/ManuGH/unchained/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxRetryBackoff = 5 * time.Minute
	tracerName      = "unchained/background"
)

// Reporter receives per-owner work item outcomes.
type Reporter interface {
	ReportSuccess(owner string)
	ReportFailure(owner string, err error)
}

// DispatcherConfig tunes the consumer pool.
type DispatcherConfig struct {
	Workers      int
	ItemTimeout  time.Duration
	RetryBackoff time.Duration
}

// Dispatcher drains the work queue with a fixed pool of consumers.
type Dispatcher struct {
	q        *queue.Queue
	cfg      DispatcherConfig
	bus      events.Publisher
	reporter Reporter
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(q *queue.Queue, cfg DispatcherConfig, bus events.Publisher) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Dispatcher{
		q:      q,
		cfg:    cfg,
		bus:    bus,
		logger: xglog.WithComponent("dispatcher"),
	}
}

func (d *Dispatcher) Name() string { return NameDispatcher }

func (d *Dispatcher) setReporter(r Reporter) {
	d.mu.Lock()
	d.reporter = r
	d.mu.Unlock()
}

// Start launches the consumers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, NameDispatcher)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wg := &sync.WaitGroup{}
	for i := range d.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.consume(runCtx, i)
		}()
	}
	d.cancel, d.wg = cancel, wg
	d.logger.Info().
		Str(xglog.FieldEvent, "dispatcher.started").
		Int("workers", d.cfg.Workers).
		Msg("dispatcher started")
	return nil
}

// Stop cancels the consumers and waits for in-flight items to return.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel, wg := d.cancel, d.wg
	d.cancel, d.wg = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info().Str(xglog.FieldEvent, "dispatcher.stopped").Msg("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop dispatcher: %w", ctx.Err())
	}
}

func (d *Dispatcher) consume(ctx context.Context, worker int) {
	for {
		item, err := d.q.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				d.logger.Error().Err(err).Int("worker", worker).Msg("dequeue failed")
			}
			return
		}
		d.process(ctx, item)
	}
}

func (d *Dispatcher) process(ctx context.Context, item *queue.WorkItem) {
	logger := d.logger.With().
		Str(xglog.FieldWorkItemID, item.ID).
		Str("work_item", item.Name).
		Int(xglog.FieldPriority, item.Priority).
		Logger()

	d.bus.Publish(events.Event{Kind: events.WorkItemStarted, WorkItem: item.Name, Service: item.Owner})

	start := time.Now()
	actx, cancel := item.BeginAttempt(xglog.ContextWithWorkItemID(ctx, item.ID))
	actx, span := telemetry.Tracer(tracerName).Start(actx, "work_item "+item.Name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(telemetry.WorkItemAttributes(item.Name, item.ID, item.Priority, item.Attempts())...),
	)
	actx, cancelTimeout := context.WithTimeout(actx, d.cfg.ItemTimeout)
	err := run(actx, item.Action)
	cancelTimeout()
	cancel()
	elapsed := time.Since(start)

	outcome := "failed"
	defer func() {
		span.SetAttributes(telemetry.OutcomeAttributes(outcome, err)...)
		if outcome == "failed" {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err == nil {
		outcome = "completed"
		_ = d.q.Complete(item, queue.StatusCompleted)
		metrics.ObserveWorkItem(item.Name, "completed", elapsed)
		logger.Debug().
			Str(xglog.FieldEvent, "work_item.completed").
			Int64(xglog.FieldDurationMS, elapsed.Milliseconds()).
			Msg("work item completed")
		d.report(item.Owner, nil)
		d.bus.Publish(events.Event{Kind: events.WorkItemCompleted, WorkItem: item.Name, Service: item.Owner, Duration: elapsed, Success: true})
		return
	}

	if ctx.Err() != nil || item.Cancelled() {
		outcome = "cancelled"
		_ = d.q.Complete(item, queue.StatusCancelled)
		metrics.ObserveWorkItem(item.Name, "cancelled", elapsed)
		logger.Debug().Err(err).Str(xglog.FieldEvent, "work_item.cancelled").Msg("work item cancelled")
		return
	}

	if item.CanRetry() {
		backoff := d.backoff(item.Attempts())
		if rerr := d.q.Retry(item, backoff); rerr == nil {
			outcome = "retried"
			metrics.ObserveWorkItem(item.Name, "retried", elapsed)
			logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "work_item.retry").
				Int(xglog.FieldAttempt, item.Attempts()).
				Dur("backoff", backoff).
				Msg("work item failed, retrying")
			return
		}
	}

	_ = d.q.Complete(item, queue.StatusFailed)
	metrics.ObserveWorkItem(item.Name, "failed", elapsed)
	logger.Error().
		Err(err).
		Str(xglog.FieldEvent, "work_item.failed").
		Int(xglog.FieldAttempt, item.Attempts()).
		Msg("work item failed")
	d.report(item.Owner, err)
	d.bus.Publish(events.Event{Kind: events.WorkItemCompleted, WorkItem: item.Name, Service: item.Owner, Duration: elapsed, Error: err.Error()})
}

// backoff doubles per attempt: base, 2*base, 4*base... capped.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := d.cfg.RetryBackoff
	for i := 1; i < attempt && b < maxRetryBackoff; i++ {
		b *= 2
	}
	return min(b, maxRetryBackoff)
}

func (d *Dispatcher) report(owner string, err error) {
	d.mu.Lock()
	r := d.reporter
	d.mu.Unlock()
	if r == nil || owner == "" {
		return
	}
	if err != nil {
		r.ReportFailure(owner, err)
		return
	}
	r.ReportSuccess(owner)
}

// run calls action, turning a panic into an error.
func run(ctx context.Context, action queue.Action) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("work item panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return action(ctx)
}
