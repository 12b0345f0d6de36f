// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth implements login, logout and session management on top of
// the session store, the token vault and the upstream API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/unchained/internal/events"
	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
	"github.com/ManuGH/unchained/internal/vault"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingCredentials is returned when username or password is blank.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrInvalidCredentials is returned when the upstream rejects the login.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrSessionNotFound is returned for an unknown or expired session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrForbidden is returned when acting on another user's session.
	ErrForbidden = errors.New("session belongs to another user")
)

// Upstream is the part of the upstream API that login and logout need.
type Upstream interface {
	Login(ctx context.Context, username, password string) (*vault.TokenRecord, error)
	Logout(ctx context.Context, accessToken string) error
}

// LoginRequest carries credentials and client metadata.
type LoginRequest struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
}

// LoginResult is a freshly created session.
type LoginResult struct {
	Session session.Session
	Token   *vault.TokenRecord
}

// Service is the session-management use case layer.
type Service struct {
	sessions *session.Store
	vault    vault.Vault
	upstream Upstream
	bus      events.Publisher
	autoLoad bool
	restored *vault.Restored
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAutoLoad enables loading stored credentials in RestoreOnStartup.
func WithAutoLoad(on bool) Option { return func(s *Service) { s.autoLoad = on } }

// WithRestored sets where RestoreOnStartup keeps the valid credentials it loads.
func WithRestored(r *vault.Restored) Option { return func(s *Service) { s.restored = r } }

// NewService wires the use cases.
func NewService(sessions *session.Store, v vault.Vault, up Upstream, bus events.Publisher, opts ...Option) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	s := &Service{
		sessions: sessions,
		vault:    v,
		upstream: up,
		bus:      bus,
		autoLoad: true,
		logger:   xglog.WithComponent("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.restored == nil {
		s.restored = vault.NewRestored(s.sessions.Now)
	}
	return s
}

// Login authenticates against the upstream, creates a session and stores
// its credentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return LoginResult{}, ErrMissingCredentials
	}
	logger := xglog.WithContext(ctx, s.logger).With().Str(xglog.FieldUsername, req.Username).Logger()

	rec, err := s.upstream.Login(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			logger.Info().Str(xglog.FieldEvent, "auth.login_rejected").Msg("upstream rejected credentials")
			return LoginResult{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		logger.Warn().Err(err).Str(xglog.FieldEvent, "auth.login_failed").Msg("upstream login failed")
		return LoginResult{}, fmt.Errorf("upstream login: %w", err)
	}

	sess, err := s.sessions.Create(ctx, req.Username, session.WithClientInfo(req.IP, req.UserAgent))
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.vault.Save(ctx, sess.TokenKey, rec); err != nil {
		s.sessions.Remove(sess.ID)
		return LoginResult{}, fmt.Errorf("store tokens: %w", err)
	}

	logger.Info().
		Str(xglog.FieldEvent, "auth.login").
		Str(xglog.FieldSessionID, xglog.MaskID(sess.ID)).
		Msg("user logged in")
	s.bus.Publish(events.Event{Kind: events.UserLoggedIn, Username: sess.Username, SessionID: sess.ID})
	return LoginResult{Session: sess, Token: rec}, nil
}

// Logout ends a session. Unknown sessions are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.end(ctx, sessionID, events.ReasonVoluntary)
}

// LogoutOthers ends every other session of the caller's user and returns
// how many were removed.
func (s *Service) LogoutOthers(ctx context.Context, sessionID string) (int, error) {
	current, ok := s.live(sessionID)
	if !ok {
		return 0, ErrSessionNotFound
	}
	var (
		n    int
		errs []error
	)
	for _, other := range s.sessions.ListByUser(current.Username) {
		if other.ID == current.ID {
			continue
		}
		if err := s.end(ctx, other.ID, events.ReasonOther); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Revoke ends targetID on behalf of the caller's session. Users may only
// revoke their own sessions.
func (s *Service) Revoke(ctx context.Context, callerID, targetID string) error {
	caller, ok := s.live(callerID)
	if !ok {
		return ErrSessionNotFound
	}
	target, ok := s.sessions.Get(targetID)
	if !ok {
		return ErrSessionNotFound
	}
	if target.Username != caller.Username {
		logger := xglog.WithContext(ctx, s.logger)
		logger.Warn().
			Str(xglog.FieldEvent, "auth.revoke_forbidden").
			Str(xglog.FieldUsername, caller.Username).
			Msg("attempt to revoke another user's session")
		return ErrForbidden
	}
	return s.end(ctx, targetID, events.ReasonRevoked)
}

// Current returns the live session for id.
func (s *Service) Current(_ context.Context, sessionID string) (session.Session, error) {
	sess, ok := s.live(sessionID)
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// UserSessions lists the live sessions of username.
func (s *Service) UserSessions(username string) []session.Session {
	now := s.sessions.Now()
	var out []session.Session
	for _, sess := range s.sessions.ListByUser(username) {
		if !sess.IsExpired(now) {
			out = append(out, sess)
		}
	}
	return out
}

// Statistics returns session store statistics.
func (s *Service) Statistics() session.Statistics {
	return s.sessions.Statistics()
}

// RestoreSummary reports what RestoreOnStartup found in storage.
type RestoreSummary struct {
	Stored   int
	Restored int
	Cleared  int
}

// Restored returns the set holding credentials loaded at startup.
func (s *Service) Restored() *vault.Restored { return s.restored }

// RestoreOnStartup loads stored credentials after a restart. Records without
// a live session that are still valid are kept in the restored set, so
// upstream calls keep working; expired or unreadable records are cleared.
func (s *Service) RestoreOnStartup(ctx context.Context) (RestoreSummary, error) {
	var sum RestoreSummary
	if !s.autoLoad {
		return sum, nil
	}
	keys, err := s.vault.Keys(ctx)
	if err != nil {
		return sum, fmt.Errorf("list stored tokens: %w", err)
	}
	sum.Stored = len(keys)
	live := make(map[string]struct{})
	for _, sess := range s.sessions.List() {
		live[sess.TokenKey] = struct{}{}
	}

	now := s.sessions.Now()
	var errs []error
	for _, key := range keys {
		if _, ok := live[key]; ok {
			continue
		}
		rec, err := s.vault.Load(ctx, key)
		if err == nil && rec.IsValid(now) {
			s.restored.Add(key, rec)
			sum.Restored++
			continue
		}
		if err := s.vault.Clear(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		sum.Cleared++
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "auth.tokens_restored").
		Int("stored", sum.Stored).
		Int("restored", sum.Restored).
		Int("expired_cleared", sum.Cleared).
		Msg("stored credentials loaded")
	return sum, errors.Join(errs...)
}

func (s *Service) live(id string) (session.Session, bool) {
	sess, ok := s.sessions.Get(id)
	if !ok || sess.IsExpired(s.sessions.Now()) {
		return session.Session{}, false
	}
	return sess, true
}

// end removes a session, clears its tokens and logs out upstream on a best
// effort basis.
func (s *Service) end(ctx context.Context, id, reason string) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil
	}
	rec, loadErr := s.vault.Load(ctx, sess.TokenKey)

	if reason == events.ReasonRevoked {
		s.sessions.Revoke(id)
	} else {
		s.sessions.Remove(id)
	}
	clearErr := s.vault.Clear(ctx, sess.TokenKey)

	logger := xglog.WithContext(ctx, s.logger)
	if loadErr == nil && rec != nil && rec.AccessToken != "" {
		if err := s.upstream.Logout(ctx, rec.AccessToken); err != nil {
			logger.Debug().Err(err).Msg("upstream logout failed, ignoring")
		}
	}

	logger.Info().
		Str(xglog.FieldEvent, "auth.logout").
		Str(xglog.FieldUsername, sess.Username).
		Str(xglog.FieldSessionID, xglog.MaskID(id)).
		Str("reason", reason).
		Msg("session ended")
	s.bus.Publish(events.Event{Kind: events.UserLoggedOut, Username: sess.Username, SessionID: id, Reason: reason})

	if clearErr != nil {
		return fmt.Errorf("clear tokens: %w", clearErr)
	}
	return nil
}
