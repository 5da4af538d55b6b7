// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/config"
	"github.com/ManuGH/camvisor/internal/log"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// PerformStartupChecks validates the environment before the daemon starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	for _, dir := range []string{cfg.DataDir, cfg.Media.OutputDir, cfg.Media.LogDir} {
		if err := ensureWritableDir(logger, dir); err != nil {
			return fmt.Errorf("directory check failed: %w", err)
		}
	}
	for name, addr := range map[string]string{"server.listen": cfg.Server.Listen, "adminListen": cfg.AdminListen} {
		if err := checkListenAddr(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	bin, err := lookPath(cfg.Media.FFmpegBin)
	if err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", cfg.Media.FFmpegBin, err)
	}
	logger.Info().Str("ffmpeg", bin).Msg("ffmpeg available")

	if cfg.Store.Backend == "memory" {
		logger.Warn().
			Str("store_backend", cfg.Store.Backend).
			Msg("connection states are not persisted across restarts")
	}
	logger.Info().Msg("all startup checks passed")
	return nil
}

func ensureWritableDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(probe)
	logger.Debug().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}

func checkListenAddr(addr string) error {
	if addr == "" {
		return nil
	}
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
