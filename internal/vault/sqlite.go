// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/unchained/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

// SQLiteVault persists records in a single SQLite table.
type SQLiteVault struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the vault database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteVault, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite vault: create dir: %w", err)
	}
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, sqliteSchemaVersion, `
		CREATE TABLE IF NOT EXISTS tokens (
			key           TEXT PRIMARY KEY,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at    INTEGER NOT NULL,
			username      TEXT NOT NULL,
			device_id     TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_expires ON tokens(expires_at)`,
	); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteVault{db: db}, nil
}

func (s *SQLiteVault) Load(ctx context.Context, key string) (*TokenRecord, error) {
	var (
		rec                TokenRecord
		expires, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, username, device_id, created_at
		FROM tokens WHERE key = ?`, key).
		Scan(&rec.AccessToken, &rec.RefreshToken, &expires, &rec.Username, &rec.DeviceID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite vault: load: %w", err)
	}
	rec.ExpiresAt = time.Unix(0, expires).UTC()
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rec, nil
}

func (s *SQLiteVault) Save(ctx context.Context, key string, rec *TokenRecord) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (key, access_token, refresh_token, expires_at, username, device_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at    = excluded.expires_at,
			username      = excluded.username,
			device_id     = excluded.device_id,
			created_at    = excluded.created_at,
			updated_at    = excluded.updated_at`,
		key, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt.UnixNano(),
		rec.Username, rec.DeviceID, rec.CreatedAt.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite vault: save: %w", err)
	}
	return nil
}

func (s *SQLiteVault) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite vault: clear: %w", err)
	}
	return nil
}

func (s *SQLiteVault) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("sqlite vault: keys: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Check reports database corruption for health probes.
func (s *SQLiteVault) Check(ctx context.Context) error {
	problems, err := sqlite.QuickCheck(ctx, s.db)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrCorrupt, problems)
	}
	return nil
}

func (s *SQLiteVault) Close() error { return s.db.Close() }
