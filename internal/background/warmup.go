// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/unchained/internal/cache"
	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
	"github.com/ManuGH/unchained/internal/vault"
	"github.com/rs/zerolog"
)

// ChannelSource fetches the channel list with a user's access token.
type ChannelSource interface {
	Channels(ctx context.Context, accessToken string) ([]upstream.Channel, error)
}

// CacheWarmingWorker prefetches the channel list so the first player request
// after startup is served from cache.
type CacheWarmingWorker struct {
	sessions    *session.Store
	vault       vault.Vault
	restored    *vault.Restored
	source      ChannelSource
	cache       cache.Cache
	ttl         time.Duration
	q           *queue.Queue
	maxAttempts int
	now         func() time.Time
	logger      zerolog.Logger
	loop        *ticker
	pending     atomic.Bool
}

// WarmingOption configures a CacheWarmingWorker.
type WarmingOption func(*CacheWarmingWorker)

// FallbackToRestored lets warm-up use a restored credential when no live
// session holds a valid token, as happens right after a restart.
func FallbackToRestored(r *vault.Restored) WarmingOption {
	return func(w *CacheWarmingWorker) { w.restored = r }
}

// NewCacheWarmingWorker creates the worker.
func NewCacheWarmingWorker(sessions *session.Store, v vault.Vault, src ChannelSource, c cache.Cache, q *queue.Queue, interval, ttl time.Duration, maxRetries int, opts ...WarmingOption) *CacheWarmingWorker {
	w := &CacheWarmingWorker{
		sessions:    sessions,
		vault:       v,
		source:      src,
		cache:       c,
		ttl:         ttl,
		q:           q,
		maxAttempts: maxRetries + 1,
		now:         time.Now,
		logger:      xglog.WithComponent("background").With().Str(xglog.FieldService, NameCacheWarming).Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.loop = newTicker(NameCacheWarming, interval, func(context.Context) { _ = w.WarmNow() })
	return w
}

func (w *CacheWarmingWorker) Name() string { return NameCacheWarming }

// Start verifies the cache backend is reachable before scheduling warm-ups.
func (w *CacheWarmingWorker) Start(ctx context.Context) error {
	if hc, ok := w.cache.(interface{ HealthCheck(context.Context) error }); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache backend unavailable: %w", err)
		}
	}
	return w.loop.start(ctx)
}

func (w *CacheWarmingWorker) Stop(ctx context.Context) error { return w.loop.stop(ctx) }

// WarmNow enqueues a warm-up unless one is already pending.
func (w *CacheWarmingWorker) WarmNow() error {
	if !w.pending.CompareAndSwap(false, true) {
		return nil
	}
	item := queue.NewItem(NameCacheWarming, func(ctx context.Context) error {
		defer w.pending.Store(false)
		_, err := w.Warm(ctx)
		return err
	},
		queue.WithPriority(PriorityCacheWarming),
		queue.WithOwner(NameCacheWarming),
		queue.WithMaxAttempts(w.maxAttempts),
	)
	if err := w.q.Enqueue(item); err != nil {
		w.pending.Store(false)
		w.logger.Warn().Err(err).Str(xglog.FieldEvent, "queue.backpressure").Msg("cache warm-up not scheduled")
		return err
	}
	return nil
}

// Warm fetches channels with the first session holding valid tokens, or
// else a restored credential, and stores them under cache.KeyChannels.
// Without any valid token it does nothing and reports false.
func (w *CacheWarmingWorker) Warm(ctx context.Context) (bool, error) {
	logger := xglog.WithContext(ctx, w.logger)
	now := w.now()
	var token string
	for _, sess := range w.sessions.List() {
		if sess.IsExpired(now) {
			continue
		}
		rec, err := w.vault.Load(ctx, sess.TokenKey)
		if err == nil && rec.IsValid(now) {
			token = rec.AccessToken
			break
		}
	}
	if token == "" {
		token, _ = w.restored.AccessToken()
	}
	if token == "" {
		logger.Debug().Str(xglog.FieldEvent, "cache.warmup_skipped").Msg("no session with valid tokens")
		return false, nil
	}

	channels, err := w.source.Channels(ctx, token)
	if err != nil {
		return false, fmt.Errorf("fetch channels: %w", err)
	}
	if err := cache.SetJSON(ctx, w.cache, cache.KeyChannels, channels, w.ttl); err != nil {
		return false, err
	}
	logger.Info().
		Str(xglog.FieldEvent, "cache.warmed").
		Int("channels", len(channels)).
		Dur("ttl", w.ttl).
		Msg("channel cache warmed")
	return true, nil
}
