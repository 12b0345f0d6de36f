// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/rs/zerolog"
)

// StatsSource exposes background subsystem state.
type StatsSource interface {
	Stats() Stats
	AllServicesInfo() []ServiceInfo
}

// TelemetryWorker periodically refreshes gauges and logs a summary line.
type TelemetryWorker struct {
	sessions *session.Store
	q        *queue.Queue
	source   StatsSource
	logger   zerolog.Logger
	loop     *ticker
	pending  atomic.Bool
}

// NewTelemetryWorker creates the worker.
func NewTelemetryWorker(sessions *session.Store, q *queue.Queue, source StatsSource, interval time.Duration) *TelemetryWorker {
	w := &TelemetryWorker{
		sessions: sessions,
		q:        q,
		source:   source,
		logger:   xglog.WithComponent("background").With().Str(xglog.FieldService, NameTelemetry).Logger(),
	}
	w.loop = newTicker(NameTelemetry, interval, w.schedule)
	return w
}

func (w *TelemetryWorker) Name() string                    { return NameTelemetry }
func (w *TelemetryWorker) Start(ctx context.Context) error { return w.loop.start(ctx) }
func (w *TelemetryWorker) Stop(ctx context.Context) error  { return w.loop.stop(ctx) }

func (w *TelemetryWorker) schedule(context.Context) {
	if !w.pending.CompareAndSwap(false, true) {
		return
	}
	item := queue.NewItem("telemetry-snapshot", func(context.Context) error {
		defer w.pending.Store(false)
		w.Snapshot()
		return nil
	},
		queue.WithPriority(PriorityTelemetry),
		queue.WithOwner(NameTelemetry),
	)
	if !enqueue(w.q, item, w.logger) {
		w.pending.Store(false)
	}
}

// Snapshot publishes the current gauges and logs a summary.
func (w *TelemetryWorker) Snapshot() {
	st := w.sessions.Statistics()
	metrics.SetActiveSessions(st.ActiveSessions)

	qs := w.q.Stats()
	metrics.SetQueueDepth(qs.Ready, qs.Delayed, qs.InFlight)

	byStatus := make(map[string]int)
	for _, info := range w.source.AllServicesInfo() {
		byStatus[string(info.Status)]++
	}
	metrics.SetBackgroundServices(byStatus)

	bs := w.source.Stats()
	w.logger.Info().
		Str(xglog.FieldEvent, "telemetry.snapshot").
		Int("active_sessions", st.ActiveSessions).
		Int("expired_sessions", st.ExpiredSessions).
		Int("unique_users", st.UniqueUsers).
		Int("queue_ready", qs.Ready).
		Int("queue_delayed", qs.Delayed).
		Int("queue_in_flight", qs.InFlight).
		Int("services_running", bs.RunningServices).
		Int("services_total", bs.TotalServices).
		Msg("background telemetry")
}
