// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/unchained/internal/config"
	xglog "github.com/ManuGH/unchained/internal/log"
)

// Open builds the backend selected by cfg.TokenStorage.Backend, wrapped in
// per-key locking. With auto_save disabled credentials are never persisted
// and the memory backend is used whatever the configured backend.
func Open(ctx context.Context, cfg config.AppConfig) (*Locked, error) {
	ts := cfg.TokenStorage
	var (
		v   Vault
		err error
	)
	backend := ts.Backend
	if !ts.AutoSave && backend != "memory" {
		logger := xglog.WithComponent("vault")
		logger.Info().
			Str("configured_backend", backend).
			Msg("token auto-save disabled, keeping credentials in memory only")
		backend = "memory"
	}
	switch backend {
	case "memory", "":
		v = NewMemory()
	case "file":
		v, err = NewFile(ts.Path, ts.EncryptionKey)
	case "sqlite":
		v, err = NewSQLite(ctx, filepath.Join(ts.Path, "tokens.db"))
	case "badger":
		v, err = NewBadger(ts.Path)
	case "redis":
		v, err = NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, ts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewLocked(v), nil
}
