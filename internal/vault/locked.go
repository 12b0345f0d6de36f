// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"hash/fnv"
	"sync"
)

const stripes = 64

// Locked orders writers per key on top of any backend. Reads go straight to
// the backend, which is atomic per key, so a reader never waits on a writer.
// The stripe lock only covers backend calls, never upstream I/O.
type Locked struct {
	Vault
	locks [stripes]sync.Mutex
}

// NewLocked wraps v.
func NewLocked(v Vault) *Locked {
	return &Locked{Vault: v}
}

func (l *Locked) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.locks[h.Sum32()%stripes]
}

func (l *Locked) Save(ctx context.Context, key string, rec *TokenRecord) error {
	mu := l.lock(key)
	mu.Lock()
	defer mu.Unlock()
	return l.Vault.Save(ctx, key, rec)
}

func (l *Locked) Clear(ctx context.Context, key string) error {
	mu := l.lock(key)
	mu.Lock()
	defer mu.Unlock()
	return l.Vault.Clear(ctx, key)
}

// CompareAndSwap saves next under key only if the stored record still equals
// old (nil meaning absent). It reports whether the save happened.
func (l *Locked) CompareAndSwap(ctx context.Context, key string, old, next *TokenRecord) (bool, error) {
	mu := l.lock(key)
	mu.Lock()
	defer mu.Unlock()

	cur, err := l.Vault.Load(ctx, key)
	if err != nil {
		return false, err
	}
	if !cur.Equal(old) {
		return false, nil
	}
	if err := l.Vault.Save(ctx, key, next); err != nil {
		return false, err
	}
	return true, nil
}
