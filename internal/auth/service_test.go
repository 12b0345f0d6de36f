// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/unchained/internal/events"
	"github.com/ManuGH/unchained/internal/session"
	"github.com/ManuGH/unchained/internal/upstream"
	"github.com/ManuGH/unchained/internal/vault"
)

type fakeUpstream struct {
	mu      sync.Mutex
	n       int
	reject  bool
	logouts []string
}

func (f *fakeUpstream) Login(_ context.Context, username, password string) (*vault.TokenRecord, error) {
	if f.reject || password != "secret" {
		return nil, fmt.Errorf("login: %w", upstream.ErrUnauthorized)
	}
	f.mu.Lock()
	f.n++
	n := f.n
	f.mu.Unlock()
	return &vault.TokenRecord{
		AccessToken:  fmt.Sprintf("acc-%d", n),
		RefreshToken: fmt.Sprintf("ref-%d", n),
		Username:     username,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeUpstream) Logout(_ context.Context, accessToken string) error {
	f.mu.Lock()
	f.logouts = append(f.logouts, accessToken)
	f.mu.Unlock()
	return nil
}

type sink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *sink) Publish(ev events.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sink) last() events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func newService(t *testing.T) (*Service, *session.Store, *vault.MemoryVault, *fakeUpstream, *sink) {
	t.Helper()
	store := session.NewStore(session.WithTTL(time.Hour))
	mem := vault.NewMemory()
	up := &fakeUpstream{}
	bus := &sink{}
	return NewService(store, mem, up, bus), store, mem, up, bus
}

func login(t *testing.T, s *Service, user string) LoginResult {
	t.Helper()
	res, err := s.Login(context.Background(), LoginRequest{Username: user, Password: "secret", IP: "10.0.0.1", UserAgent: "player"})
	require.NoError(t, err)
	return res
}

func TestLoginCreatesSessionAndStoresTokens(t *testing.T) {
	s, store, mem, _, bus := newService(t)
	res := login(t, s, "alice")

	assert.True(t, store.Validate(res.Session.ID))
	assert.Equal(t, "10.0.0.1", res.Session.IPAddress)

	rec, err := mem.Load(context.Background(), res.Session.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", rec.AccessToken)

	ev := bus.last()
	assert.Equal(t, events.UserLoggedIn, ev.Kind)
	assert.Equal(t, "alice", ev.Username)
}

func TestLoginErrors(t *testing.T) {
	s, store, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.Login(ctx, LoginRequest{Username: " ", Password: "x"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = s.Login(ctx, LoginRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, upstream.ErrUnauthorized)
	assert.Zero(t, store.Len())
}

func TestLogoutIsIdempotent(t *testing.T) {
	s, store, mem, up, bus := newService(t)
	res := login(t, s, "alice")
	ctx := context.Background()

	require.NoError(t, s.Logout(ctx, res.Session.ID))
	assert.False(t, store.Validate(res.Session.ID))
	rec, err := mem.Load(ctx, res.Session.TokenKey)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, []string{"acc-1"}, up.logouts)

	ev := bus.last()
	assert.Equal(t, events.UserLoggedOut, ev.Kind)
	assert.Equal(t, events.ReasonVoluntary, ev.Reason)

	require.NoError(t, s.Logout(ctx, res.Session.ID))
	require.NoError(t, s.Logout(ctx, "never-existed"))
}

func TestLogoutOthers(t *testing.T) {
	s, store, _, _, _ := newService(t)
	keep := login(t, s, "alice")
	login(t, s, "alice")
	login(t, s, "alice")
	bob := login(t, s, "bob")

	n, err := s.LogoutOthers(context.Background(), keep.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, store.Validate(keep.Session.ID))
	assert.True(t, store.Validate(bob.Session.ID))
	assert.Len(t, s.UserSessions("alice"), 1)

	_, err = s.LogoutOthers(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeOnlyOwnSessions(t *testing.T) {
	s, store, _, _, bus := newService(t)
	a1 := login(t, s, "alice")
	a2 := login(t, s, "alice")
	b := login(t, s, "bob")
	ctx := context.Background()

	assert.ErrorIs(t, s.Revoke(ctx, a1.Session.ID, b.Session.ID), ErrForbidden)
	assert.True(t, store.Validate(b.Session.ID))

	require.NoError(t, s.Revoke(ctx, a1.Session.ID, a2.Session.ID))
	assert.False(t, store.Validate(a2.Session.ID))
	assert.Equal(t, events.ReasonRevoked, bus.last().Reason)

	assert.ErrorIs(t, s.Revoke(ctx, a1.Session.ID, "missing"), ErrSessionNotFound)
}

func TestCurrentAndStatistics(t *testing.T) {
	s, _, _, _, _ := newService(t)
	res := login(t, s, "alice")
	login(t, s, "bob")

	cur, err := s.Current(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", cur.Username)

	_, err = s.Current(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	st := s.Statistics()
	assert.Equal(t, 2, st.ActiveSessions)
	assert.Equal(t, 2, st.UniqueUsers)
}

func TestRestoreOnStartupKeepsValidCredentials(t *testing.T) {
	ctx := context.Background()
	s, _, mem, _, _ := newService(t)
	live := login(t, s, "alice")
	require.NoError(t, mem.Save(ctx, "stored-valid", &vault.TokenRecord{AccessToken: "kept", Username: "bob", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, mem.Save(ctx, "stored-expired", &vault.TokenRecord{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Minute)}))

	sum, err := s.RestoreOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestoreSummary{Stored: 3, Restored: 1, Cleared: 1}, sum)

	keys, err := mem.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{live.Session.TokenKey, "stored-valid"}, keys)

	assert.True(t, s.Restored().Retains("stored-valid"))
	assert.False(t, s.Restored().Retains("stored-expired"))
	tok, ok := s.Restored().AccessToken()
	require.True(t, ok)
	assert.Equal(t, "kept", tok)

	off := NewService(session.NewStore(), mem, &fakeUpstream{}, nil, WithAutoLoad(false))
	sum, err = off.RestoreOnStartup(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum)
	assert.Zero(t, off.Restored().Len())
}

func TestRestoreOnStartupSurvivesRestartWithDurableBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens")
	file, err := vault.NewFile(path, "0123456789abcdef-secret")
	require.NoError(t, err)
	first := NewService(session.NewStore(session.WithTTL(time.Hour)), file, &fakeUpstream{}, nil)
	login(t, first, "alice")
	require.NoError(t, file.Close())

	reopened, err := vault.NewFile(path, "0123456789abcdef-secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	restarted := NewService(session.NewStore(session.WithTTL(time.Hour)), reopened, &fakeUpstream{}, nil)
	sum, err := restarted.RestoreOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Restored)
	assert.Zero(t, sum.Cleared)

	tok, ok := restarted.Restored().AccessToken()
	require.True(t, ok)
	assert.Equal(t, "acc-1", tok)
}
