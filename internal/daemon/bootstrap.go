// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/unchained/internal/api"
	"github.com/ManuGH/unchained/internal/auth"
	"github.com/ManuGH/unchained/internal/background"
	"github.com/ManuGH/unchained/internal/cache"
	"github.com/ManuGH/unchained/internal/config"
	"github.com/ManuGH/unchained/internal/device"
	"github.com/ManuGH/unchained/internal/events"
	"github.com/ManuGH/unchained/internal/gate"
	"github.com/ManuGH/unchained/internal/health"
	"github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
	"github.com/ManuGH/unchained/internal/vault"
)

// Runtime is the fully wired gateway.
type Runtime struct {
	Config       config.AppConfig
	Bus          *events.Bus
	Sessions     *session.Store
	Vault        *vault.Locked
	Cache        cache.Cache
	Upstream     *upstream.Client
	Queue        *queue.Queue
	Orchestrator *background.Orchestrator
	Warmer       *background.CacheWarmingWorker
	Auth         *auth.Service
	Gate         *gate.Gate
	Health       *health.Manager
	API          *api.Server

	eventLog *events.Subscription
}

// Build wires every component from cfg. Nothing is started; on error the
// resources opened so far are released.
func Build(ctx context.Context, cfg config.AppConfig) (_ *Runtime, err error) {
	logger := log.WithComponent("bootstrap")
	rt := &Runtime{Config: cfg, Bus: events.NewBus()}
	defer func() {
		if err != nil {
			_ = rt.close(context.WithoutCancel(ctx))
		}
	}()

	if rt.Vault, err = vault.Open(ctx, cfg); err != nil {
		return nil, fmt.Errorf("open token vault: %w", err)
	}
	if rt.Cache, err = cache.Open(ctx, cfg); err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	rt.Sessions = session.NewStore(
		session.WithTTL(cfg.Auth.SessionTTL()),
		session.WithMaxSessionsPerUser(cfg.Auth.MaxSessionsPerUser),
	)

	rt.Upstream = upstream.New(cfg.Upstream, cfg.TokenStorage.TokenLifetime, device.NewFileProvider(cfg.DataDir))
	if ierr := rt.Upstream.Initialize(ctx); ierr != nil {
		logger.Warn().Err(ierr).Str(log.FieldEvent, "upstream.init_deferred").Msg("upstream client not initialized, retrying on first call")
	}

	bg := cfg.Background
	rt.Queue = queue.New(bg.MaxQueueSize)
	dispatcher := background.NewDispatcher(rt.Queue, background.DispatcherConfig{
		Workers:      bg.Workers,
		ItemTimeout:  bg.ItemTimeout,
		RetryBackoff: bg.RetryBackoff,
	}, rt.Bus)
	rt.Orchestrator = background.NewOrchestrator(rt.Queue, dispatcher, rt.Bus,
		background.WithDegradedAfter(bg.DegradedAfter),
	)

	restored := vault.NewRestored(rt.Sessions.Now)
	refresher := vault.NewRefresher(rt.Vault, rt.Upstream, cfg.TokenStorage.TokenLifetime)
	rt.Warmer = background.NewCacheWarmingWorker(rt.Sessions, rt.Vault, rt.Upstream, rt.Cache, rt.Queue,
		bg.WarmupInterval, cfg.Cache.ChannelsTTL, bg.MaxRetries, background.FallbackToRestored(restored))

	rt.Orchestrator.Register(background.NewTokenRefreshWorker(rt.Sessions, rt.Vault, refresher, rt.Queue, rt.Bus,
		bg.RefreshInterval, cfg.TokenStorage.RefreshLeadTime), true)
	rt.Orchestrator.Register(background.NewSessionCleanupWorker(rt.Sessions, rt.Vault, rt.Queue, rt.Bus,
		bg.CleanupInterval, bg.MaxRetries, background.RetainRestored(restored)), true)
	rt.Orchestrator.Register(rt.Warmer, false)
	rt.Orchestrator.Register(background.NewTelemetryWorker(rt.Sessions, rt.Queue, rt.Orchestrator, bg.TelemetryInterval), false)

	rt.Auth = auth.NewService(rt.Sessions, rt.Vault, rt.Upstream, rt.Bus,
		auth.WithAutoLoad(cfg.TokenStorage.AutoLoad), auth.WithRestored(restored))
	if sum, rerr := rt.Auth.RestoreOnStartup(ctx); rerr != nil {
		logger.Warn().Err(rerr).Int("restored", sum.Restored).Int("cleared", sum.Cleared).Msg("stored credentials only partially loaded")
	}

	rt.Gate = gate.New(rt.Sessions, rt.Vault, gate.CookieConfigFrom(cfg.Auth), cfg.Auth.TouchInterval)

	rt.Health = health.NewManager(cfg.Version)
	rt.Health.RegisterChecker(health.NewBackgroundChecker(rt.Orchestrator))
	rt.Health.RegisterChecker(health.NewSessionChecker(rt.Sessions))
	rt.Health.RegisterChecker(health.NewUpstreamChecker(rt.Upstream))

	rt.API, err = api.New(api.Deps{
		Config:       cfg,
		Auth:         rt.Auth,
		Gate:         rt.Gate,
		Health:       rt.Health,
		Background:   rt.Orchestrator,
		Warmer:       rt.Warmer,
		Cache:        rt.Cache,
		ServeMetrics: cfg.Metrics.Listen == "",
	})
	if err != nil {
		return nil, err
	}

	rt.eventLog = rt.Bus.Subscribe(256)
	return rt, nil
}

// ManagerDeps returns the listener configuration for this runtime.
func (rt *Runtime) ManagerDeps() Deps {
	d := Deps{
		Logger:     log.WithComponent("daemon"),
		Server:     rt.Config.Server,
		APIHandler: rt.API.Handler(),
	}
	if rt.Config.Metrics.Listen != "" {
		d.MetricsAddr = rt.Config.Metrics.Listen
		d.MetricsHandler = promhttp.Handler()
	}
	return d
}

// RegisterShutdownHooks arranges teardown so that background services stop
// before the stores they use are closed.
func (rt *Runtime) RegisterShutdownHooks(m Manager) {
	m.RegisterShutdownHook("stores", rt.close)
	m.RegisterShutdownHook("background", func(ctx context.Context) error {
		err := rt.Orchestrator.StopAll(ctx)
		rt.Queue.Close()
		return err
	})
}

// close releases stores. Safe on a partially built runtime.
func (rt *Runtime) close(_ context.Context) error {
	var errs []error
	if rt.eventLog != nil {
		rt.eventLog.Close()
	}
	if rt.Cache != nil {
		if err := rt.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if rt.Vault != nil {
		if err := rt.Vault.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vault: %w", err))
		}
	}
	return errors.Join(errs...)
}
