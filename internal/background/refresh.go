// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/unchained/internal/events"
	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/queue"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
	"github.com/ManuGH/unchained/internal/vault"
	"github.com/rs/zerolog"
)

// TokenRefresher is the refresh flow the worker drives.
type TokenRefresher interface {
	RefreshAndStore(ctx context.Context, key string) (*vault.TokenRecord, error)
}

// TokenRefreshWorker refreshes upstream credentials shortly before they
// expire. A failed refresh is not retried: the session stays usable until
// its natural expiry and the user then logs in again.
type TokenRefreshWorker struct {
	sessions  *session.Store
	vault     vault.Vault
	refresher TokenRefresher
	q         *queue.Queue
	bus       events.Publisher
	lead      time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	loop      *ticker

	mu      sync.Mutex
	pending map[string]struct{}
	// gaveUp maps a token key to the expiry of the record whose refresh was
	// rejected, so the same record is not retried every tick.
	gaveUp map[string]time.Time
}

// NewTokenRefreshWorker creates the worker. lead is how long before expiry a
// refresh is attempted.
func NewTokenRefreshWorker(sessions *session.Store, v vault.Vault, r TokenRefresher, q *queue.Queue, bus events.Publisher, interval, lead time.Duration) *TokenRefreshWorker {
	if bus == nil {
		bus = events.Discard{}
	}
	w := &TokenRefreshWorker{
		sessions:  sessions,
		vault:     v,
		refresher: r,
		q:         q,
		bus:       bus,
		lead:      lead,
		now:       time.Now,
		logger:    xglog.WithComponent("background").With().Str(xglog.FieldService, NameTokenRefresh).Logger(),
		pending:   make(map[string]struct{}),
		gaveUp:    make(map[string]time.Time),
	}
	w.loop = newTicker(NameTokenRefresh, interval, func(ctx context.Context) { w.Scan(ctx) })
	return w
}

func (w *TokenRefreshWorker) Name() string                    { return NameTokenRefresh }
func (w *TokenRefreshWorker) Start(ctx context.Context) error { return w.loop.start(ctx) }
func (w *TokenRefreshWorker) Stop(ctx context.Context) error  { return w.loop.stop(ctx) }

// Scan enqueues a refresh for every live session whose token expires within
// the lead time. It returns the number of items enqueued.
func (w *TokenRefreshWorker) Scan(ctx context.Context) int {
	now := w.now()
	live := make(map[string]struct{})
	enqueued := 0

	for _, sess := range w.sessions.List() {
		if sess.IsExpired(now) {
			continue
		}
		live[sess.TokenKey] = struct{}{}

		rec, err := w.vault.Load(ctx, sess.TokenKey)
		if err != nil {
			w.logger.Warn().Err(err).Str(xglog.FieldSessionID, xglog.MaskID(sess.ID)).Msg("token load failed")
			continue
		}
		if rec == nil || !rec.ExpiresWithin(now, w.lead) {
			continue
		}
		if !w.claim(sess.TokenKey, rec.ExpiresAt) {
			continue
		}

		item := w.item(sess, rec.ExpiresAt)
		if !enqueue(w.q, item, w.logger) {
			w.release(sess.TokenKey)
			break
		}
		enqueued++
	}

	w.mu.Lock()
	for key := range w.gaveUp {
		if _, ok := live[key]; !ok {
			delete(w.gaveUp, key)
		}
	}
	w.mu.Unlock()
	return enqueued
}

func (w *TokenRefreshWorker) item(sess session.Session, expiresAt time.Time) *queue.WorkItem {
	return queue.NewItem("token-refresh:"+sess.ID, func(ctx context.Context) error {
		defer w.release(sess.TokenKey)
		if _, err := w.refresher.RefreshAndStore(ctx, sess.TokenKey); err != nil {
			if !isTransient(err) {
				w.mu.Lock()
				w.gaveUp[sess.TokenKey] = expiresAt
				w.mu.Unlock()
			}
			return err
		}
		w.bus.Publish(events.Event{Kind: events.TokensRefreshed, Username: sess.Username, SessionID: sess.ID, Success: true})
		return nil
	},
		queue.WithPriority(PriorityTokenRefresh),
		queue.WithOwner(NameTokenRefresh),
		queue.WithMaxAttempts(1),
	)
}

// claim marks key as pending unless it already is or its current record was
// already rejected.
func (w *TokenRefreshWorker) claim(key string, expiresAt time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[key]; ok {
		return false
	}
	if at, ok := w.gaveUp[key]; ok && at.Equal(expiresAt) {
		return false
	}
	w.pending[key] = struct{}{}
	return true
}

func (w *TokenRefreshWorker) release(key string) {
	w.mu.Lock()
	delete(w.pending, key)
	w.mu.Unlock()
}

// isTransient reports outage-class failures; anything else (rejected
// credentials, a missing record, a malformed payload) will not change by
// retrying the same record.
func isTransient(err error) bool {
	return errors.Is(err, upstream.ErrUnavailable) ||
		errors.Is(err, upstream.ErrUpstream) ||
		errors.Is(err, upstream.ErrTimeout) ||
		errors.Is(err, upstream.ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded)
}
