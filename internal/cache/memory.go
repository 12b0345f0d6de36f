// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is an in-process cache backed by ttlcache.
type Memory struct {
	c    *ttlcache.Cache[string, []byte]
	sets atomic.Uint64
}

// NewMemory creates a memory cache and starts its expiry loop. Close stops it.
func NewMemory() *Memory {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go c.Start()
	return &Memory{c: c}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	item := m.c.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	m.sets.Add(1)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *Memory) Clear(_ context.Context) (int, error) {
	m.c.DeleteExpired()
	n := m.c.Len()
	m.c.DeleteAll()
	return n, nil
}

func (m *Memory) Stats() Stats {
	mt := m.c.Metrics()
	return Stats{
		Hits:        mt.Hits,
		Misses:      mt.Misses,
		Sets:        m.sets.Load(),
		Evictions:   mt.Evictions,
		CurrentSize: m.c.Len(),
	}
}

func (m *Memory) Close() error {
	m.c.Stop()
	return nil
}

var _ Cache = (*Memory)(nil)
