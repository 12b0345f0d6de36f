// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/unchained/internal/events"
	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/vault"
	"github.com/rs/zerolog"
)

// SessionCleanupWorker purges expired sessions and their stored credentials,
// and clears stored credentials no session owns.
type SessionCleanupWorker struct {
	sessions    *session.Store
	vault       vault.Vault
	restored    *vault.Restored
	q           *queue.Queue
	bus         events.Publisher
	maxAttempts int
	logger      zerolog.Logger
	loop        *ticker
	pending     atomic.Bool
}

// CleanupOption configures a SessionCleanupWorker.
type CleanupOption func(*SessionCleanupWorker)

// RetainRestored keeps keys that r still holds as valid restored credentials.
func RetainRestored(r *vault.Restored) CleanupOption {
	return func(w *SessionCleanupWorker) { w.restored = r }
}

// NewSessionCleanupWorker creates the worker.
func NewSessionCleanupWorker(sessions *session.Store, v vault.Vault, q *queue.Queue, bus events.Publisher, interval time.Duration, maxRetries int, opts ...CleanupOption) *SessionCleanupWorker {
	if bus == nil {
		bus = events.Discard{}
	}
	w := &SessionCleanupWorker{
		sessions:    sessions,
		vault:       v,
		q:           q,
		bus:         bus,
		maxAttempts: maxRetries + 1,
		logger:      xglog.WithComponent("background").With().Str(xglog.FieldService, NameSessionCleanup).Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.loop = newTicker(NameSessionCleanup, interval, w.schedule)
	return w
}

func (w *SessionCleanupWorker) Name() string                    { return NameSessionCleanup }
func (w *SessionCleanupWorker) Start(ctx context.Context) error { return w.loop.start(ctx) }
func (w *SessionCleanupWorker) Stop(ctx context.Context) error  { return w.loop.stop(ctx) }

func (w *SessionCleanupWorker) schedule(context.Context) {
	if !w.pending.CompareAndSwap(false, true) {
		return
	}
	item := queue.NewItem(NameSessionCleanup, func(ctx context.Context) error {
		defer w.pending.Store(false)
		_, err := w.Cleanup(ctx)
		return err
	},
		queue.WithPriority(PrioritySessionCleanup),
		queue.WithOwner(NameSessionCleanup),
		queue.WithMaxAttempts(w.maxAttempts),
	)
	if !enqueue(w.q, item, w.logger) {
		w.pending.Store(false)
	}
}

// Cleanup purges expired sessions now and clears their tokens, then clears
// every stored record that neither a session nor a valid restored credential
// owns. A Clear that failed on an earlier run is retried this way. It returns
// the number of sessions removed; vault errors are joined but do not stop the
// sweep.
func (w *SessionCleanupWorker) Cleanup(ctx context.Context) (int, error) {
	// Keys are listed before sessions: login creates the session before
	// saving its tokens, so every listed key's owner is already visible.
	keys, keysErr := w.vault.Keys(ctx)

	purged := w.sessions.PurgeExpired()
	var errs []error
	if keysErr != nil {
		errs = append(errs, fmt.Errorf("list stored tokens: %w", keysErr))
	}
	handled := make(map[string]struct{}, len(purged))
	for _, sess := range purged {
		handled[sess.TokenKey] = struct{}{}
		if err := w.vault.Clear(ctx, sess.TokenKey); err != nil {
			errs = append(errs, fmt.Errorf("clear tokens for %s: %w", xglog.MaskID(sess.ID), err))
		}
		w.bus.Publish(events.Event{Kind: events.SessionExpired, Username: sess.Username, SessionID: sess.ID})
	}

	w.restored.Prune()
	for _, sess := range w.sessions.List() {
		handled[sess.TokenKey] = struct{}{}
	}
	orphans := 0
	for _, key := range keys {
		if _, ok := handled[key]; ok || w.restored.Retains(key) {
			continue
		}
		if err := w.vault.Clear(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("clear orphaned tokens %s: %w", xglog.MaskID(key), err))
			continue
		}
		orphans++
	}

	if len(purged) > 0 || orphans > 0 {
		logger := xglog.WithContext(ctx, w.logger)
		logger.Info().
			Str(xglog.FieldEvent, "session.cleanup").
			Int("removed", len(purged)).
			Int("orphans_cleared", orphans).
			Int("remaining", w.sessions.Len()).
			Msg("expired sessions cleaned up")
	}
	return len(purged), errors.Join(errs...)
}
