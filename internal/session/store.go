// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	shardCount     = 32
	idBytes        = 32
	maxCreateTries = 5
	defaultTTL     = 480 * time.Minute
)

// Clock returns the current time.
type Clock func() time.Time

// IDGenerator produces opaque session identifiers.
type IDGenerator func() (string, error)

// RandomID returns 32 bytes of crypto/rand encoded as unpadded base64url.
func RandomID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Store is a sharded, concurrency-safe session registry. Writes to one id are
// serialised by its shard lock; reads of different shards never contend.
type Store struct {
	shards      [shardCount]shard
	ttl         time.Duration
	now         Clock
	newID       IDGenerator
	maxPerUser  int
	lastCleanup atomic.Int64 // unix nanos, 0 = never
	count       atomic.Int64
	logger      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the inactivity lifetime of a session.
func WithTTL(ttl time.Duration) Option { return func(s *Store) { s.ttl = ttl } }

// WithClock replaces time.Now.
func WithClock(c Clock) Option { return func(s *Store) { s.now = c } }

// WithIDGenerator replaces RandomID.
func WithIDGenerator(g IDGenerator) Option { return func(s *Store) { s.newID = g } }

// WithMaxSessionsPerUser bounds concurrent sessions per user; the oldest are
// evicted on Create. Zero disables the bound.
func WithMaxSessionsPerUser(n int) Option { return func(s *Store) { s.maxPerUser = n } }

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:    defaultTTL,
		now:    time.Now,
		newID:  RandomID,
		logger: xglog.WithComponent("session"),
	}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*Session)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()&(shardCount-1)]
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time { return s.now() }

// CreateOption enriches a session at creation.
type CreateOption func(*Session)

// WithClientInfo records the client address and user agent.
func WithClientInfo(ip, userAgent string) CreateOption {
	return func(sess *Session) {
		sess.IPAddress = ip
		sess.UserAgent = userAgent
	}
}

// WithTokenKey overrides the vault key (defaults to the session id).
func WithTokenKey(key string) CreateOption {
	return func(sess *Session) { sess.TokenKey = key }
}

// Create registers a new session for username with a fresh random id.
func (s *Store) Create(ctx context.Context, username string, opts ...CreateOption) (Session, error) {
	if username == "" {
		return Session{}, ErrEmptyUsername
	}
	now := s.now()
	logger := xglog.WithContext(ctx, s.logger)

	for attempt := 1; attempt <= maxCreateTries; attempt++ {
		id, err := s.newID()
		if err != nil {
			return Session{}, fmt.Errorf("generate session id: %w", err)
		}
		sess := &Session{
			ID:             id,
			Username:       username,
			CreatedAt:      now,
			LastActivityAt: now,
			ExpiresAt:      now.Add(s.ttl),
			TokenKey:       id,
		}
		for _, opt := range opts {
			opt(sess)
		}

		sh := s.shardFor(id)
		sh.mu.Lock()
		if _, exists := sh.sessions[id]; exists {
			sh.mu.Unlock()
			logger.Warn().
				Str(xglog.FieldEvent, "session.id_collision").
				Int(xglog.FieldAttempt, attempt).
				Msg("session id collision, regenerating")
			continue
		}
		sh.sessions[id] = sess
		snapshot := *sess
		sh.mu.Unlock()

		s.count.Add(1)
		metrics.IncSessionCreated()
		metrics.SetActiveSessions(int(s.count.Load()))
		logger.Info().
			Str(xglog.FieldEvent, "session.created").
			Str(xglog.FieldSessionID, xglog.MaskID(id)).
			Str(xglog.FieldUsername, username).
			Msg("session created")

		if s.maxPerUser > 0 {
			s.evictOverflow(username, id)
		}
		return snapshot, nil
	}
	return Session{}, ErrDuplicateID
}

// evictOverflow removes the oldest sessions of username beyond maxPerUser,
// never the session that was just created.
func (s *Store) evictOverflow(username, keep string) {
	sessions := s.ListByUser(username)
	if len(sessions) <= s.maxPerUser {
		return
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	excess := len(sessions) - s.maxPerUser
	for _, sess := range sessions {
		if excess == 0 {
			break
		}
		if sess.ID == keep {
			continue
		}
		if s.remove(sess.ID, "evicted") {
			excess--
		}
	}
}

// Get returns a snapshot of the session, expired or not.
func (s *Store) Get(id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sess, ok := sh.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Validate reports whether the session exists and has not expired.
// It never mutates the store.
func (s *Store) Validate(id string) bool {
	sess, ok := s.Get(id)
	return ok && !sess.IsExpired(s.now())
}

// Touch records activity and pushes ExpiresAt to now+TTL. It returns false
// for unknown or already expired sessions, which are left untouched.
func (s *Store) Touch(id string) bool {
	if id == "" {
		return false
	}
	now := s.now()
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok || sess.IsExpired(now) {
		return false
	}
	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	return true
}

// Remove deletes the session. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) bool {
	return s.remove(id, "logout")
}

// Revoke deletes the session with a revocation reason for accounting.
func (s *Store) Revoke(id string) bool {
	return s.remove(id, "revoked")
}

func (s *Store) remove(id, reason string) bool {
	if id == "" {
		return false
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	_, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
	}
	sh.mu.Unlock()
	if !ok {
		return false
	}
	s.count.Add(-1)
	metrics.IncSessionRemoved(reason)
	metrics.SetActiveSessions(int(s.count.Load()))
	s.logger.Info().
		Str(xglog.FieldEvent, "session.removed").
		Str(xglog.FieldSessionID, xglog.MaskID(id)).
		Str("reason", reason).
		Msg("session removed")
	return true
}

// ListByUser returns snapshots of every session (expired included) for username.
func (s *Store) ListByUser(username string) []Session {
	var out []Session
	s.each(func(sess *Session) {
		if sess.Username == username {
			out = append(out, *sess)
		}
	})
	return out
}

// List returns snapshots of every session.
func (s *Store) List() []Session {
	out := make([]Session, 0, s.Len())
	s.each(func(sess *Session) { out = append(out, *sess) })
	return out
}

func (s *Store) each(fn func(*Session)) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			fn(sess)
		}
		sh.mu.RUnlock()
	}
}

// Len returns the number of stored sessions.
func (s *Store) Len() int { return int(s.count.Load()) }

// PurgeExpired removes every expired session, records the cleanup time and
// returns what was removed.
func (s *Store) PurgeExpired() []Session {
	now := s.now()
	var purged []Session
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if sess.IsExpired(now) {
				purged = append(purged, *sess)
				delete(sh.sessions, id)
			}
		}
		sh.mu.Unlock()
	}
	s.lastCleanup.Store(now.UnixNano())

	if n := len(purged); n > 0 {
		s.count.Add(int64(-n))
		for range purged {
			metrics.IncSessionRemoved("expired")
		}
		metrics.SetActiveSessions(int(s.count.Load()))
		s.logger.Info().
			Str(xglog.FieldEvent, "session.purged").
			Int("count", n).
			Msg("expired sessions purged")
	}
	return purged
}

// Statistics summarises the store at the current time.
func (s *Store) Statistics() Statistics {
	now := s.now()
	var st Statistics
	users := make(map[string]struct{})
	s.each(func(sess *Session) {
		if sess.IsExpired(now) {
			st.ExpiredSessions++
			return
		}
		st.ActiveSessions++
		users[sess.Username] = struct{}{}
	})
	st.UniqueUsers = len(users)
	if ns := s.lastCleanup.Load(); ns != 0 {
		st.LastCleanup = time.Unix(0, ns).UTC()
	}
	return st
}
