// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	fileExt  = ".tok"
	hkdfSalt = "unchained-token-vault"
	hkdfInfo = "xchacha20poly1305/v1"
)

// FileVault stores one authenticated-encrypted file per key. Writes are
// atomic (temp file + rename), so a crash never leaves a torn record.
type FileVault struct {
	dir  string
	aead cipher.AEAD
}

type fileEnvelope struct {
	Key    string       `json:"key"`
	Record *TokenRecord `json:"record"`
}

// NewFile opens (creating if needed) an encrypted file vault in dir. The
// secret is stretched with HKDF-SHA256 into the XChaCha20-Poly1305 key.
func NewFile(dir, secret string) (*FileVault, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("file vault: secret too short")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file vault: create dir: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(hkdfSalt), []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("file vault: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("file vault: init cipher: %w", err)
	}
	return &FileVault{dir: dir, aead: aead}, nil
}

func (f *FileVault) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+fileExt)
}

func (f *FileVault) Load(_ context.Context, key string) (*TokenRecord, error) {
	env, err := f.read(f.path(key))
	if err != nil || env == nil {
		return nil, err
	}
	if env.Key != key {
		return nil, ErrCorrupt
	}
	return env.Record, nil
}

// read opens one file. The file name is bound as additional data so a file
// copied over another key's path fails authentication.
func (f *FileVault) read(path string) (*fileEnvelope, error) {
	// #nosec G304 -- path is derived from a hash inside the vault directory
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file vault: read: %w", err)
	}
	ns := f.aead.NonceSize()
	if len(data) < ns {
		return nil, ErrCorrupt
	}
	plain, err := f.aead.Open(nil, data[:ns], data[ns:], []byte(filepath.Base(path)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &env, nil
}

func (f *FileVault) Save(_ context.Context, key string, rec *TokenRecord) error {
	if key == "" {
		return ErrEmptyKey
	}
	plain, err := json.Marshal(fileEnvelope{Key: key, Record: rec})
	if err != nil {
		return fmt.Errorf("file vault: encode: %w", err)
	}
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("file vault: nonce: %w", err)
	}
	path := f.path(key)
	sealed := f.aead.Seal(nonce, nonce, plain, []byte(filepath.Base(path)))

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("file vault: create pending file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := pf.Write(sealed); err != nil {
		return fmt.Errorf("file vault: write: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("file vault: commit: %w", err)
	}
	return nil
}

func (f *FileVault) Clear(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file vault: remove: %w", err)
	}
	return nil
}

// Keys decrypts every file to recover its key. Files that fail to
// authenticate are skipped.
func (f *FileVault) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("file vault: list: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		env, err := f.read(filepath.Join(f.dir, e.Name()))
		if err != nil || env == nil {
			continue
		}
		keys = append(keys, env.Key)
	}
	return keys, nil
}

func (f *FileVault) Close() error { return nil }
