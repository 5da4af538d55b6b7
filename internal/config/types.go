// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the resolved daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel string `yaml:"logLevel"`
	DataDir  string `yaml:"dataDir"`
	// AdminListen serves /healthz, /readyz and /metrics.
	AdminListen string `yaml:"adminListen"`

	Supervisor SupervisorConfig `yaml:"supervisor"`
	Media      MediaConfig      `yaml:"media"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Notify     NotifyConfig     `yaml:"notify"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	Devices []DeviceConfig `yaml:"devices"`
}

// SupervisorConfig holds the connection supervision timings.
type SupervisorConfig struct {
	ConnectInterval       time.Duration `yaml:"connectInterval"`
	ConnectDelay          time.Duration `yaml:"connectDelay"`
	HealthInterval        time.Duration `yaml:"healthInterval"`
	HealthDelay           time.Duration `yaml:"healthDelay"`
	MaxPingErrors         int           `yaml:"maxPingErrors"`
	ChannelPruneThreshold int           `yaml:"channelPruneThreshold"`
	SnapshotMinRefresh    time.Duration `yaml:"snapshotMinRefresh"`
	SubscriberQueueSize   int           `yaml:"subscriberQueueSize"`
	SnapshotDir           string        `yaml:"snapshotDir"`
}

// MediaConfig controls the transcoder processes.
type MediaConfig struct {
	FFmpegBin        string        `yaml:"ffmpegBin"`
	OutputDir        string        `yaml:"outputDir"`
	LogDir           string        `yaml:"logDir"`
	StopGrace        time.Duration `yaml:"stopGrace"`
	DefaultKeepAlive int           `yaml:"defaultKeepAlive"`
	AliveWindow      time.Duration `yaml:"aliveWindow"`
	ManifestWait     time.Duration `yaml:"manifestWait"`
	SegmentSeconds   int           `yaml:"segmentSeconds"`
	HLSListSize      int           `yaml:"hlsListSize"`
	HLSOptions       string        `yaml:"hlsOptions"`
	DASHOptions      string        `yaml:"dashOptions"`
	// StartTimeout and StallTimeout terminate transcoders that show no
	// progress; zero disables.
	StartTimeout time.Duration `yaml:"startTimeout"`
	StallTimeout time.Duration `yaml:"stallTimeout"`
	// GifOptions and Mp4Options apply to devices without their own.
	GifOptions string `yaml:"gifOptions"`
	Mp4Options string `yaml:"mp4Options"`
}

// ServerConfig controls the media stream server.
type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	IdleWriteTimeout  time.Duration `yaml:"idleWriteTimeout"`
	PushAllowlist     []string      `yaml:"pushAllowlist"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	MaxConnections    int           `yaml:"maxConnections"`
	MaxClipSeconds    int           `yaml:"maxClipSeconds"`
	// IngestURL is where transcoders push frames; derived from Listen when empty.
	IngestURL string `yaml:"ingestUrl"`
}

// StoreConfig selects the connection state store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// NotifyConfig enables the Redis event publisher when RedisAddr is set.
type NotifyConfig struct {
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	Channel       string        `yaml:"channel"`
	StateTTL      time.Duration `yaml:"stateTtl"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
	Environment string  `yaml:"environment"`
}

// DeviceConfig declares one camera.
type DeviceConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Brand     string `yaml:"brand"`
	Address   string `yaml:"address"`
	HTTPPort  int    `yaml:"httpPort"`
	RTSPPort  int    `yaml:"rtspPort"`
	ONVIFPort int    `yaml:"onvifPort"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	// Enabled defaults to true.
	Enabled       *bool `yaml:"enabled"`
	HasAudio      bool  `yaml:"hasAudio"`
	PTZ           bool  `yaml:"ptz"`
	ContinuousPTZ bool  `yaml:"continuousPtz"`

	RTSPURI     string `yaml:"rtspUri"`
	MJPEGURI    string `yaml:"mjpegUri"`
	SnapshotURI string `yaml:"snapshotUri"`

	Output OutputConfig `yaml:"output"`

	MotionThreshold int `yaml:"motionThreshold"`
	AudioThreshold  int `yaml:"audioThreshold"`
}

// IsEnabled reports whether the device should run.
func (d DeviceConfig) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// OutputConfig are per-role transcoder output arguments.
type OutputConfig struct {
	Snapshot string `yaml:"snapshot"`
	MJPEG    string `yaml:"mjpeg"`
	HLS      string `yaml:"hls"`
	DASH     string `yaml:"dash"`
	Gif      string `yaml:"gif"`
	Mp4      string `yaml:"mp4"`
}
