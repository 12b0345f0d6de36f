// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"sync"
)

// MemoryVault keeps records in process memory. Records are copied on the way
// in and out so callers never share state with the vault.
type MemoryVault struct {
	mu      sync.RWMutex
	records map[string]*TokenRecord
}

// NewMemory creates an empty in-memory vault.
func NewMemory() *MemoryVault {
	return &MemoryVault{records: make(map[string]*TokenRecord)}
}

func (m *MemoryVault) Load(_ context.Context, key string) (*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[key].Clone(), nil
}

func (m *MemoryVault) Save(_ context.Context, key string, rec *TokenRecord) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec.Clone()
	return nil
}

func (m *MemoryVault) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryVault) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryVault) Close() error { return nil }
