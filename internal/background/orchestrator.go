// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/unchained/internal/events"
	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/rs/zerolog"
)

type entry struct {
	svc      Service
	info     ServiceInfo
	failures int
}

// Orchestrator starts, stops and tracks the background services.
//
// The dispatcher is always started first and stopped last. Services then
// start stage by stage according to the Plan.
type Orchestrator struct {
	q             *queue.Queue
	dispatcher    *Dispatcher
	bus           events.Publisher
	plan          Plan
	degradedAfter int
	now           func() time.Time
	logger        zerolog.Logger

	mu          sync.RWMutex
	entries     map[string]*entry
	order       []string
	lastUpdated time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPlan replaces DefaultPlan.
func WithPlan(p Plan) OrchestratorOption { return func(o *Orchestrator) { o.plan = p } }

// WithDegradedAfter sets how many consecutive item failures degrade a service.
func WithDegradedAfter(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.degradedAfter = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator registers the dispatcher and wires its outcome reports back.
func NewOrchestrator(q *queue.Queue, d *Dispatcher, bus events.Publisher, opts ...OrchestratorOption) *Orchestrator {
	if bus == nil {
		bus = events.Discard{}
	}
	o := &Orchestrator{
		q:             q,
		dispatcher:    d,
		bus:           bus,
		plan:          DefaultPlan(),
		degradedAfter: 3,
		now:           time.Now,
		logger:        xglog.WithComponent("orchestrator"),
		entries:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.lastUpdated = o.now()
	d.setReporter(o)
	o.Register(d, true)
	return o
}

// Register adds a service. core services form the fallback set.
func (o *Orchestrator) Register(svc Service, core bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	name := svc.Name()
	if _, ok := o.entries[name]; !ok {
		o.order = append(o.order, name)
	}
	o.entries[name] = &entry{
		svc:  svc,
		info: ServiceInfo{Name: name, Status: StatusStopped, Core: core},
	}
}

// Start is the process-boot entry point. It tries the full plan, falls back
// to core-only startup, and never returns an error: the gateway keeps
// serving even with no background services.
func (o *Orchestrator) Start(ctx context.Context) error {
	err := o.StartAllIntelligently(ctx)
	if err == nil {
		return nil
	}
	o.logger.Error().
		Err(err).
		Str(xglog.FieldEvent, "orchestrator.fallback").
		Msg("full startup failed, falling back to core services")

	if err := o.StartCoreOnly(ctx); err != nil {
		o.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "orchestrator.fallback_failed").
			Str("severity", "critical").
			Msg("fallback startup failed, continuing without background services")
	}
	return nil
}

// StartAllIntelligently starts the dispatcher and then every plan stage in
// order. If a required service fails, the services this call started are
// stopped again and the error wraps ErrStartupFailed.
func (o *Orchestrator) StartAllIntelligently(ctx context.Context) error {
	if err := o.startOne(ctx, NameDispatcher); err != nil {
		return fmt.Errorf("%w: %w", ErrStartupFailed, err)
	}

	var started []string
	for _, stage := range o.stages() {
		var errs []error
		for _, name := range stage.Services {
			if !o.registered(name) {
				continue
			}
			wasActive := o.status(name).Active()
			if err := o.startOne(ctx, name); err != nil {
				errs = append(errs, err)
				continue
			}
			if !wasActive {
				started = append(started, name)
			}
		}
		if len(errs) > 0 && stage.Required {
			o.rollback(ctx, started)
			return fmt.Errorf("%w: stage %s: %w", ErrStartupFailed, stage.Name, errors.Join(errs...))
		}
		for _, err := range errs {
			o.logger.Warn().Err(err).Str("stage", stage.Name).Msg("optional service failed to start")
		}
	}

	o.logger.Info().
		Str(xglog.FieldEvent, "orchestrator.started").
		Int("services", len(started)).
		Msg("background services started")
	return nil
}

// StartCoreOnly starts the dispatcher and the core services, then attempts
// the warm-up stage on its own; a warm-up failure is logged, not returned.
func (o *Orchestrator) StartCoreOnly(ctx context.Context) error {
	var errs []error
	if err := o.startOne(ctx, NameDispatcher); err != nil {
		errs = append(errs, err)
	}
	for _, name := range o.names() {
		if name == NameDispatcher || !o.isCore(name) {
			continue
		}
		if err := o.startOne(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}

	for _, stage := range o.plan.Stages {
		if stage.Name != "warmup" {
			continue
		}
		for _, name := range stage.Services {
			if !o.registered(name) || o.isCore(name) {
				continue
			}
			if err := o.startOne(ctx, name); err != nil {
				o.logger.Warn().
					Err(err).
					Str(xglog.FieldEvent, "orchestrator.warmup_failed").
					Str(xglog.FieldService, name).
					Msg("cache warm-up unavailable in fallback mode")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStartupFailed, errors.Join(errs...))
	}
	o.logger.Info().Str(xglog.FieldEvent, "orchestrator.core_started").Msg("core background services started")
	return nil
}

// StartService starts one registered service.
func (o *Orchestrator) StartService(ctx context.Context, name string) error {
	if !o.registered(name) {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if o.status(name).Active() {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	return o.startOne(ctx, name)
}

// StopAll stops every active service in reverse registration order, the
// dispatcher last.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	names := o.names()
	slices.Reverse(names)
	var errs []error
	for _, name := range names {
		if name == NameDispatcher {
			continue
		}
		if err := o.stopOne(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.stopOne(ctx, NameDispatcher); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats summarises services and queue occupancy.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := Stats{
		TotalServices: len(o.entries),
		QueuedItems:   o.q.Len(),
		QueueCapacity: o.q.Capacity(),
		LastUpdated:   o.lastUpdated,
	}
	for _, e := range o.entries {
		if e.info.Status.Active() {
			st.RunningServices++
		}
	}
	return st
}

// AllServicesInfo returns every service in registration order.
func (o *Orchestrator) AllServicesInfo() []ServiceInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ServiceInfo, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.entries[name].info)
	}
	return out
}

// Queue exposes the work queue for diagnostics.
func (o *Orchestrator) Queue() *queue.Queue { return o.q }

// ReportSuccess records a completed work item for owner.
func (o *Orchestrator) ReportSuccess(owner string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[owner]
	if !ok {
		return
	}
	e.failures = 0
	e.info.LastHealthCheck = o.now()
	if e.info.Status == StatusDegraded {
		o.setStatusLocked(e, StatusRunning, nil)
	}
}

// ReportFailure records a failed work item for owner.
func (o *Orchestrator) ReportFailure(owner string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[owner]
	if !ok {
		return
	}
	e.failures++
	e.info.LastHealthCheck = o.now()
	e.info.LastError = err.Error()
	if e.info.Status == StatusRunning && e.failures >= o.degradedAfter {
		o.setStatusLocked(e, StatusDegraded, err)
	}
}

// stages returns the plan plus an implicit optional stage for registered
// services the plan does not name.
func (o *Orchestrator) stages() []Stage {
	stages := slices.Clone(o.plan.Stages)
	var extra []string
	for _, name := range o.names() {
		if name != NameDispatcher && o.plan.stageOf(name) == "" {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		stages = append(stages, Stage{Name: "unplanned", Services: extra})
	}
	return stages
}

func (o *Orchestrator) startOne(ctx context.Context, name string) error {
	o.mu.Lock()
	e, ok := o.entries[name]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if e.info.Status.Active() {
		o.mu.Unlock()
		return nil
	}
	o.setStatusLocked(e, StatusStarting, nil)
	o.mu.Unlock()

	err := e.svc.Start(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("start %s: %w", name, err)
		o.setStatusLocked(e, StatusFailed, err)
		return err
	}
	e.failures = 0
	o.setStatusLocked(e, StatusRunning, nil)
	return nil
}

func (o *Orchestrator) stopOne(ctx context.Context, name string) error {
	o.mu.RLock()
	e, ok := o.entries[name]
	active := ok && e.info.Status.Active()
	o.mu.RUnlock()
	if !active {
		return nil
	}
	err := e.svc.Stop(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("stop %s: %w", name, err)
		o.setStatusLocked(e, StatusFailed, err)
		return err
	}
	o.setStatusLocked(e, StatusStopped, nil)
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := o.stopOne(ctx, started[i]); err != nil {
			o.logger.Warn().Err(err).Str(xglog.FieldService, started[i]).Msg("rollback stop failed")
		}
	}
}

func (o *Orchestrator) setStatusLocked(e *entry, s Status, err error) {
	old := e.info.Status
	now := o.now()
	e.info.Status = s
	e.info.LastHealthCheck = now
	if err != nil {
		e.info.LastError = err.Error()
	} else if s == StatusRunning || s == StatusStarting {
		e.info.LastError = ""
	}
	o.lastUpdated = now
	if old == s {
		return
	}

	byStatus := make(map[string]int)
	for _, other := range o.entries {
		byStatus[string(other.info.Status)]++
	}
	metrics.SetBackgroundServices(byStatus)

	evt := o.logger.Info()
	if s == StatusFailed || s == StatusDegraded {
		evt = o.logger.Warn().Err(err)
	}
	evt.Str(xglog.FieldEvent, "service.status").
		Str(xglog.FieldService, e.info.Name).
		Str(xglog.FieldOldState, string(old)).
		Str(xglog.FieldNewState, string(s)).
		Msg("background service status changed")

	ev := events.Event{
		Kind:      events.ServiceHealthChanged,
		Time:      now,
		Service:   e.info.Name,
		OldStatus: string(old),
		NewStatus: string(s),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	o.bus.Publish(ev)
}

func (o *Orchestrator) names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.order)
}

func (o *Orchestrator) registered(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.entries[name]
	return ok
}

func (o *Orchestrator) isCore(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[name]
	return ok && e.info.Core
}

func (o *Orchestrator) status(name string) Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if e, ok := o.entries[name]; ok {
		return e.info.Status
	}
	return ""
}
