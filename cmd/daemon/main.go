// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command daemon supervises network cameras and serves their media.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/camvisor/internal/config"
	"github.com/ManuGH/camvisor/internal/daemon"
	"github.com/ManuGH/camvisor/internal/health"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: daemon.ServiceName,
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectiveConfigPath := strings.TrimSpace(*configPath)
	source := "file"
	if effectiveConfigPath == "" {
		effectiveConfigPath = resolveDefaultConfigPath()
		source = "file(auto)"
	}

	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, effectiveConfigPath).
			Msg("failed to load configuration")
	}

	log.Reconfigure(log.Config{
		Level:   cfg.LogLevel,
		Service: daemon.ServiceName,
		Version: cfg.Version,
	})
	logger = log.WithComponent("daemon")

	if effectiveConfigPath != "" {
		logger.Info().
			Str(log.FieldEvent, "config.loaded").
			Str("source", source).
			Str(log.FieldPath, effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(log.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.Listen).
		Str("admin_addr", cfg.AdminListen).
		Int("devices", len(cfg.Devices)).
		Msg("starting camvisor")
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ State store: %s", cfg.Store.Backend)
	if cfg.Notify.RedisAddr != "" {
		logger.Info().Msgf("→ Redis notifier: %s", cfg.Notify.RedisAddr)
	}

	rt, err := daemon.Build(ctx, cfg, daemon.Options{Version: version.Version})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "runtime.build_failed").
			Msg("failed to assemble daemon")
	}

	// Reloads need a file to watch.
	var holder *config.Holder
	if effectiveConfigPath != "" {
		holder = config.NewHolder(cfg, loader)
	}

	app := daemon.NewApp(logger, rt, holder)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}

// resolveDefaultConfigPath returns ${CAMVISOR_DATA_DIR}/config.yaml when it
// exists, or "" to run from the environment and defaults.
func resolveDefaultConfigPath() string {
	dataDir := strings.TrimSpace(os.Getenv(config.EnvPrefix + "DATA_DIR"))
	if dataDir == "" {
		dataDir = config.DefaultDataDir
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}
