// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/unchained/internal/config"
	"github.com/ManuGH/unchained/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the server starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.checks_begin").Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkListenAddr(cfg.Server.Listen); err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		if err := checkListenAddr(cfg.Metrics.Listen); err != nil {
			return err
		}
	}
	if err := checkTokenStorage(logger, cfg); err != nil {
		return fmt.Errorf("token storage check failed: %w", err)
	}

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("data directory not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Debug().Str("path", path).Msg("data directory is writable")
	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	return nil
}

func checkTokenStorage(logger zerolog.Logger, cfg config.AppConfig) error {
	ts := cfg.TokenStorage
	switch strings.ToLower(ts.Backend) {
	case "memory":
		logger.Warn().
			Str(log.FieldEvent, "startup.volatile_tokens").
			Msg("token storage is in memory; credentials are lost on restart")
		return nil
	case "redis":
		return nil
	}
	if !ts.AutoSave {
		return nil
	}
	if err := os.MkdirAll(ts.Path, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", ts.Path, err)
	}
	return nil
}
