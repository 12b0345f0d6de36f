// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device provides the stable device identifier sent to the upstream.
package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// FileName is the name of the device id file inside the data directory.
const FileName = "dev_id.txt"

// Provider yields the device identifier.
type Provider interface {
	DeviceID(ctx context.Context) (string, error)
}

// FileProvider persists a generated UUID in a file so the upstream sees the
// same device across restarts. The value is resolved once per process.
type FileProvider struct {
	path string
	once sync.Once
	id   string
}

// NewFileProvider stores the id at dir/dev_id.txt.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{path: filepath.Join(dir, FileName)}
}

// DeviceID returns the persisted id, creating it on first use. If the file
// cannot be read or written, a process-local UUID is used and a warning is
// logged; the gateway still works but the upstream sees a new device.
func (p *FileProvider) DeviceID(ctx context.Context) (string, error) {
	p.once.Do(func() {
		p.id = p.resolve(ctx)
	})
	return p.id, nil
}

func (p *FileProvider) resolve(ctx context.Context) string {
	logger := xglog.WithComponentFromContext(ctx, "device")

	id, err := p.read()
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "device.read_failed").Msg("could not read device id file")
	}

	id = uuid.NewString()
	if err := p.write(id); err != nil {
		logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "device.persist_failed").
			Str(xglog.FieldPath, p.path).
			Msg("could not persist device id, using temporary id")
		return id
	}
	logger.Info().
		Str(xglog.FieldEvent, "device.created").
		Str(xglog.FieldPath, p.path).
		Msg("generated new device id")
	return id
}

func (p *FileProvider) read() (string, error) {
	// #nosec G304 -- path is built from the configured data directory
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *FileProvider) write(id string) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return renameio.WriteFile(p.path, []byte(id+"\n"), 0o600)
}

// Static is a fixed Provider, used in tests and when no data dir exists.
type Static string

// DeviceID returns the fixed id.
func (s Static) DeviceID(context.Context) (string, error) { return string(s), nil }
