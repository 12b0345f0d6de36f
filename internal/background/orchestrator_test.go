// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/unchained/internal/events"
	"github.com/ManuGH/unchained/internal/queue"
)

func newTestOrchestrator(t *testing.T, failing string) (*Orchestrator, *callLog, *recorder) {
	t.Helper()
	q := queue.New(10)
	bus := &recorder{}
	o := NewOrchestrator(q, NewDispatcher(q, DispatcherConfig{Workers: 1}, nil), bus)
	log := &callLog{}
	for _, name := range []string{NameTokenRefresh, NameSessionCleanup, NameCacheWarming, NameTelemetry} {
		svc := &stubService{name: name, log: log}
		if name == failing {
			svc.startErr = errBoom
		}
		o.Register(svc, name == NameTokenRefresh || name == NameSessionCleanup)
	}
	t.Cleanup(func() { _ = o.StopAll(context.Background()) })
	return o, log, bus
}

func statusOf(o *Orchestrator, name string) Status {
	for _, info := range o.AllServicesInfo() {
		if info.Name == name {
			return info.Status
		}
	}
	return ""
}

func TestStartAllIntelligentlyFollowsPlan(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	o, log, _ := newTestOrchestrator(t, "")
	require.NoError(t, o.StartAllIntelligently(context.Background()))

	assert.Equal(t, []string{
		"start:" + NameTokenRefresh,
		"start:" + NameSessionCleanup,
		"start:" + NameCacheWarming,
		"start:" + NameTelemetry,
	}, log.all())

	st := o.Stats()
	assert.Equal(t, 5, st.TotalServices)
	assert.Equal(t, 5, st.RunningServices)
	assert.Equal(t, 10, st.QueueCapacity)

	infos := o.AllServicesInfo()
	require.Len(t, infos, 5)
	assert.Equal(t, NameDispatcher, infos[0].Name)
	assert.Equal(t, NameTelemetry, infos[4].Name)

	require.NoError(t, o.StopAll(context.Background()))
	calls := log.all()
	assert.Equal(t, []string{
		"stop:" + NameTelemetry,
		"stop:" + NameCacheWarming,
		"stop:" + NameSessionCleanup,
		"stop:" + NameTokenRefresh,
	}, calls[4:])
	assert.Equal(t, StatusStopped, statusOf(o, NameDispatcher))
}

func TestStartAllIntelligentlyAbortsOnRequiredFailure(t *testing.T) {
	o, log, _ := newTestOrchestrator(t, NameCacheWarming)

	err := o.StartAllIntelligently(context.Background())
	require.ErrorIs(t, err, ErrStartupFailed)
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, StatusFailed, statusOf(o, NameCacheWarming))
	assert.Equal(t, StatusStopped, statusOf(o, NameTokenRefresh), "started services are rolled back")
	assert.Equal(t, StatusStopped, statusOf(o, NameTelemetry), "later stages never start")
	assert.NotContains(t, log.all(), "start:"+NameTelemetry)
}

func TestStartFallsBackToCoreOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	o, _, bus := newTestOrchestrator(t, NameCacheWarming)
	require.NoError(t, o.Start(context.Background()))

	assert.Equal(t, StatusRunning, statusOf(o, NameDispatcher))
	assert.Equal(t, StatusRunning, statusOf(o, NameTokenRefresh))
	assert.Equal(t, StatusRunning, statusOf(o, NameSessionCleanup))
	assert.Equal(t, StatusFailed, statusOf(o, NameCacheWarming))
	assert.Equal(t, StatusStopped, statusOf(o, NameTelemetry))
	assert.Equal(t, 3, o.Stats().RunningServices)

	var failed []string
	for _, ev := range bus.kinds(events.ServiceHealthChanged) {
		if ev.NewStatus == string(StatusFailed) {
			failed = append(failed, ev.Service)
		}
	}
	assert.Contains(t, failed, NameCacheWarming)

	require.NoError(t, o.StopAll(context.Background()))
	assert.Equal(t, StatusStopped, statusOf(o, NameDispatcher), "dispatcher goroutines exit before the leak check")
}

func TestStartNeverFailsEvenWhenCoreFails(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, NameTokenRefresh)
	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StatusFailed, statusOf(o, NameTokenRefresh))
	assert.Equal(t, StatusRunning, statusOf(o, NameDispatcher), "gateway keeps its dispatcher")

	err := o.StartCoreOnly(context.Background())
	assert.ErrorIs(t, err, ErrStartupFailed)
}

func TestStartService(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, "")
	ctx := context.Background()

	assert.ErrorIs(t, o.StartService(ctx, "nope"), ErrUnknownService)
	require.NoError(t, o.StartService(ctx, NameTelemetry))
	assert.ErrorIs(t, o.StartService(ctx, NameTelemetry), ErrAlreadyRunning)
}

func TestDegradedAndRecovery(t *testing.T) {
	o, _, bus := newTestOrchestrator(t, "")
	require.NoError(t, o.StartService(context.Background(), NameSessionCleanup))

	o.ReportFailure(NameSessionCleanup, errBoom)
	o.ReportFailure(NameSessionCleanup, errBoom)
	assert.Equal(t, StatusRunning, statusOf(o, NameSessionCleanup))
	o.ReportFailure(NameSessionCleanup, errBoom)
	assert.Equal(t, StatusDegraded, statusOf(o, NameSessionCleanup))
	assert.Equal(t, 1, o.Stats().RunningServices, "degraded still counts as running")

	o.ReportSuccess(NameSessionCleanup)
	assert.Equal(t, StatusRunning, statusOf(o, NameSessionCleanup))

	var transitions []string
	for _, ev := range bus.kinds(events.ServiceHealthChanged) {
		if ev.Service == NameSessionCleanup {
			transitions = append(transitions, ev.OldStatus+">"+ev.NewStatus)
		}
	}
	assert.Equal(t, []string{"stopped>starting", "starting>running", "running>degraded", "degraded>running"}, transitions)
}
