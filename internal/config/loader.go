// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied before the file and the environment.
const (
	DefaultDataDir          = "data"
	DefaultAdminListen      = ":9090"
	DefaultLogLevel         = "info"
	DefaultConnectInterval  = 30 * time.Second
	DefaultConnectDelay     = time.Second
	DefaultHealthInterval   = 8 * time.Second
	DefaultHealthDelay      = 8 * time.Second
	DefaultMaxPingErrors    = 10
	DefaultPruneThreshold   = 10
	DefaultSnapshotRefresh  = 30 * time.Second
	DefaultSubscriberQueue  = 50
	DefaultFFmpegBin        = "ffmpeg"
	DefaultStopGrace        = 10 * time.Second
	DefaultKeepAlive        = 8
	DefaultAliveWindow      = 30 * time.Second
	DefaultManifestWait     = 10 * time.Second
	DefaultStartTimeout     = 30 * time.Second
	DefaultStallTimeout     = 60 * time.Second
	DefaultListen           = ":8089"
	DefaultIdleWriteTimeout = 18 * time.Second
	DefaultMaxClipSeconds   = 30
	DefaultStoreBackend     = "sqlite"
	DefaultExporter         = "grpc"
)

// Loader resolves an AppConfig with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every environment key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath skips the file.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configuration file path.
func (l *Loader) Path() string { return l.configPath }

// Load reads defaults, the file and the environment, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnv(&cfg)
	resolvePaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:    DefaultLogLevel,
		DataDir:     DefaultDataDir,
		AdminListen: DefaultAdminListen,
		Supervisor: SupervisorConfig{
			ConnectInterval:       DefaultConnectInterval,
			ConnectDelay:          DefaultConnectDelay,
			HealthInterval:        DefaultHealthInterval,
			HealthDelay:           DefaultHealthDelay,
			MaxPingErrors:         DefaultMaxPingErrors,
			ChannelPruneThreshold: DefaultPruneThreshold,
			SnapshotMinRefresh:    DefaultSnapshotRefresh,
			SubscriberQueueSize:   DefaultSubscriberQueue,
		},
		Media: MediaConfig{
			FFmpegBin:        DefaultFFmpegBin,
			StopGrace:        DefaultStopGrace,
			DefaultKeepAlive: DefaultKeepAlive,
			AliveWindow:      DefaultAliveWindow,
			ManifestWait:     DefaultManifestWait,
			StartTimeout:     DefaultStartTimeout,
			StallTimeout:     DefaultStallTimeout,
		},
		Server: ServerConfig{
			Listen:           DefaultListen,
			IdleWriteTimeout: DefaultIdleWriteTimeout,
			PushAllowlist:    []string{"127.0.0.0/8", "::1/128"},
			MaxClipSeconds:   DefaultMaxClipSeconds,
		},
		Store: StoreConfig{Backend: DefaultStoreBackend},
		Telemetry: TelemetryConfig{
			Exporter:    DefaultExporter,
			SampleRatio: 1.0,
		},
	}
}

// loadFile decodes the YAML file over cfg. Unknown keys are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) env(key string) string {
	full := EnvPrefix + key
	l.ConsumedEnvKeys[full] = struct{}{}
	return full
}

// mergeEnv applies CAMVISOR_* overrides. Unset keys keep the current value.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString(l.env("LOG_LEVEL"), cfg.LogLevel)
	cfg.DataDir = ParseString(l.env("DATA_DIR"), cfg.DataDir)
	cfg.AdminListen = ParseString(l.env("ADMIN_LISTEN"), cfg.AdminListen)

	s := &cfg.Supervisor
	s.ConnectInterval = ParseDuration(l.env("CONNECT_INTERVAL"), s.ConnectInterval)
	s.ConnectDelay = ParseDuration(l.env("CONNECT_DELAY"), s.ConnectDelay)
	s.HealthInterval = ParseDuration(l.env("HEALTH_INTERVAL"), s.HealthInterval)
	s.HealthDelay = ParseDuration(l.env("HEALTH_DELAY"), s.HealthDelay)
	s.MaxPingErrors = ParseInt(l.env("MAX_PING_ERRORS"), s.MaxPingErrors)
	s.ChannelPruneThreshold = ParseInt(l.env("CHANNEL_PRUNE_THRESHOLD"), s.ChannelPruneThreshold)
	s.SnapshotMinRefresh = ParseDuration(l.env("SNAPSHOT_MIN_REFRESH"), s.SnapshotMinRefresh)
	s.SubscriberQueueSize = ParseInt(l.env("SUBSCRIBER_QUEUE"), s.SubscriberQueueSize)
	s.SnapshotDir = ParseString(l.env("SNAPSHOT_DIR"), s.SnapshotDir)

	m := &cfg.Media
	m.FFmpegBin = ParseString(l.env("FFMPEG_BIN"), m.FFmpegBin)
	m.OutputDir = ParseString(l.env("OUTPUT_DIR"), m.OutputDir)
	m.LogDir = ParseString(l.env("LOG_DIR"), m.LogDir)
	m.StopGrace = ParseDuration(l.env("STOP_GRACE"), m.StopGrace)
	m.DefaultKeepAlive = ParseInt(l.env("KEEPALIVE"), m.DefaultKeepAlive)
	m.AliveWindow = ParseDuration(l.env("ALIVE_WINDOW"), m.AliveWindow)
	m.ManifestWait = ParseDuration(l.env("MANIFEST_WAIT"), m.ManifestWait)
	m.StartTimeout = ParseDuration(l.env("START_TIMEOUT"), m.StartTimeout)
	m.StallTimeout = ParseDuration(l.env("STALL_TIMEOUT"), m.StallTimeout)

	srv := &cfg.Server
	srv.Listen = ParseString(l.env("LISTEN"), srv.Listen)
	srv.IdleWriteTimeout = ParseDuration(l.env("IDLE_WRITE_TIMEOUT"), srv.IdleWriteTimeout)
	srv.PushAllowlist = ParseList(l.env("PUSH_ALLOWLIST"), srv.PushAllowlist)
	srv.RequestsPerMinute = ParseInt(l.env("RATE_LIMIT"), srv.RequestsPerMinute)
	srv.MaxConnections = ParseInt(l.env("MAX_CONNECTIONS"), srv.MaxConnections)
	srv.IngestURL = ParseString(l.env("INGEST_URL"), srv.IngestURL)

	cfg.Store.Backend = ParseString(l.env("STORE_BACKEND"), cfg.Store.Backend)
	cfg.Store.Path = ParseString(l.env("STORE_PATH"), cfg.Store.Path)

	n := &cfg.Notify
	n.RedisAddr = ParseString(l.env("REDIS_ADDR"), n.RedisAddr)
	n.RedisPassword = ParseString(l.env("REDIS_PASSWORD"), n.RedisPassword)
	n.RedisDB = ParseInt(l.env("REDIS_DB"), n.RedisDB)
	n.Channel = ParseString(l.env("NOTIFY_CHANNEL"), n.Channel)

	t := &cfg.Telemetry
	t.Enabled = ParseBool(l.env("TELEMETRY_ENABLED"), t.Enabled)
	t.Exporter = ParseString(l.env("TELEMETRY_EXPORTER"), t.Exporter)
	t.Endpoint = ParseString(l.env("TELEMETRY_ENDPOINT"), t.Endpoint)
	t.SampleRatio = ParseFloat(l.env("TELEMETRY_SAMPLE_RATIO"), t.SampleRatio)
	t.Environment = ParseString(l.env("ENVIRONMENT"), t.Environment)
}

// resolvePaths makes DataDir absolute and derives the directories that
// were left empty from it.
func resolvePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Media.OutputDir == "" {
		cfg.Media.OutputDir = filepath.Join(cfg.DataDir, "media")
	}
	if cfg.Media.LogDir == "" {
		cfg.Media.LogDir = filepath.Join(cfg.DataDir, "logs")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = cfg.DataDir
	}
}
