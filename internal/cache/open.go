// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"fmt"

	"github.com/ManuGH/unchained/internal/config"
)

// Open builds the cache selected by cache.backend.
func Open(ctx context.Context, cfg config.AppConfig) (Cache, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Cache.Backend)
	}
}
