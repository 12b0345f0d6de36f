// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/unchained/internal/config"
)

func sampleRecord() *TokenRecord {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &TokenRecord{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Hour),
		Username:     "alice",
		DeviceID:     "dev-1",
		CreatedAt:    now,
	}
}

func backends(t *testing.T) map[string]Vault {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	file, err := NewFile(filepath.Join(dir, "file"), "0123456789abcdef-secret")
	require.NoError(t, err)

	sq, err := NewSQLite(ctx, filepath.Join(dir, "sqlite", "tokens.db"))
	require.NoError(t, err)

	bg, err := NewBadger(filepath.Join(dir, "badger"))
	require.NoError(t, err)

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	rd := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	all := map[string]Vault{
		"memory": NewMemory(),
		"file":   file,
		"sqlite": sq,
		"badger": bg,
		"redis":  rd,
	}
	t.Cleanup(func() {
		for _, v := range all {
			_ = v.Close()
		}
	})
	return all
}

func TestVaultContract(t *testing.T) {
	for name, v := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := v.Load(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, got)

			rec := sampleRecord()
			require.NoError(t, v.Save(ctx, "sess-1", rec))

			got, err = v.Load(ctx, "sess-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, rec.AccessToken, got.AccessToken)
			assert.Equal(t, rec.RefreshToken, got.RefreshToken)
			assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
			assert.Equal(t, rec.Username, got.Username)
			assert.Equal(t, rec.DeviceID, got.DeviceID)

			updated := rec.Clone()
			updated.AccessToken = "access-2"
			require.NoError(t, v.Save(ctx, "sess-1", updated))
			got, err = v.Load(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, "access-2", got.AccessToken)

			keys, err := v.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"sess-1"}, keys)

			require.NoError(t, v.Clear(ctx, "sess-1"))
			require.NoError(t, v.Clear(ctx, "sess-1"), "clear must be idempotent")
			got, err = v.Load(ctx, "sess-1")
			require.NoError(t, err)
			assert.Nil(t, got)

			assert.ErrorIs(t, v.Save(ctx, "", rec), ErrEmptyKey)
		})
	}
}

func TestMemoryVaultCopiesRecords(t *testing.T) {
	ctx := context.Background()
	v := NewMemory()
	rec := sampleRecord()
	require.NoError(t, v.Save(ctx, "k", rec))
	rec.AccessToken = "mutated"

	got, err := v.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
}

func TestFileVaultRejectsTampering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v, err := NewFile(dir, "0123456789abcdef-secret")
	require.NoError(t, err)
	require.NoError(t, v.Save(ctx, "k", sampleRecord()))

	path := v.path("k")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = v.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileVaultRejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v, err := NewFile(dir, "0123456789abcdef-secret")
	require.NoError(t, err)
	require.NoError(t, v.Save(ctx, "k", sampleRecord()))

	other, err := NewFile(dir, "another-secret-of-length")
	require.NoError(t, err)
	_, err = other.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestNewFileRequiresSecret(t *testing.T) {
	_, err := NewFile(t.TempDir(), "short")
	assert.Error(t, err)
}

func TestTokenRecordValidity(t *testing.T) {
	rec := sampleRecord()
	assert.True(t, rec.IsValid(rec.CreatedAt))
	assert.False(t, rec.IsValid(rec.ExpiresAt), "expiry instant is invalid")
	assert.True(t, rec.ExpiresWithin(rec.CreatedAt, time.Hour))
	assert.False(t, rec.ExpiresWithin(rec.CreatedAt, 30*time.Minute))

	var nilRec *TokenRecord
	assert.False(t, nilRec.IsValid(time.Now()))

	rec.AccessToken = ""
	assert.False(t, rec.IsValid(rec.CreatedAt))
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Open(ctx, config.AppConfig{TokenStorage: config.TokenStorageConfig{Backend: "sqlite", Path: dir, AutoSave: true}})
	require.NoError(t, err)
	_, isSQLite := v.Vault.(*SQLiteVault)
	assert.True(t, isSQLite)
	require.NoError(t, v.Close())

	v, err = Open(ctx, config.AppConfig{TokenStorage: config.TokenStorageConfig{Backend: "sqlite", Path: dir, AutoSave: false}})
	require.NoError(t, err)
	_, isMemory := v.Vault.(*MemoryVault)
	assert.True(t, isMemory, "auto_save=false never persists")

	_, err = Open(ctx, config.AppConfig{TokenStorage: config.TokenStorageConfig{Backend: "etcd", AutoSave: true}})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
