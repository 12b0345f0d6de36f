// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "tok:"

// BadgerVault stores JSON records in an embedded Badger database, one entry
// per key with a TTL so abandoned records age out.
type BadgerVault struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadger opens the badger vault directory.
func NewBadger(path string) (*BadgerVault, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger vault: open: %w", err)
	}
	return &BadgerVault{db: db, now: time.Now}, nil
}

func (b *BadgerVault) Load(_ context.Context, key string) (*TokenRecord, error) {
	var out TokenRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger vault: load: %w", err)
	}
	return &out, nil
}

func (b *BadgerVault) Save(_ context.Context, key string, rec *TokenRecord) error {
	if key == "" {
		return ErrEmptyKey
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("badger vault: encode: %w", err)
	}
	entry := badger.NewEntry([]byte(badgerPrefix+key), buf).WithTTL(ttlFor(rec, b.now()))
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("badger vault: save: %w", err)
	}
	return nil
}

func (b *BadgerVault) Clear(_ context.Context, key string) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerPrefix + key))
	}); err != nil {
		return fmt.Errorf("badger vault: clear: %w", err)
	}
	return nil
}

func (b *BadgerVault) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), badgerPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger vault: keys: %w", err)
	}
	return keys, nil
}

func (b *BadgerVault) Close() error { return b.db.Close() }
