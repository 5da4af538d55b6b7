// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "camvisor:events"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Channel  string // pub/sub channel, DefaultChannel when empty
	// StateTTL bounds how long the last status of a device stays readable
	// under StateKey. Zero keeps it until overwritten.
	StateTTL time.Duration
}

// RedisNotifier publishes events as JSON on a Redis channel and keeps the
// latest status event of every device under StateKey.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis notifier")

	return newRedisNotifier(client, cfg, logger), nil
}

func newRedisNotifier(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisNotifier {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel, ttl: cfg.StateTTL, logger: logger}
}

// Channel returns the pub/sub channel.
func (n *RedisNotifier) Channel() string { return n.channel }

// StateKey is the key holding the last status event of a device.
func StateKey(deviceID string) string {
	return "camvisor:device:" + deviceID + ":status"
}

// Publish implements Notifier.
func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := n.client.Pipeline()
	pipe.Publish(ctx, n.channel, data)
	if ev.Kind == KindStatus {
		pipe.Set(ctx, StateKey(ev.DeviceID), data, n.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		n.logger.Warn().Err(err).Str(log.FieldDeviceID, ev.DeviceID).Msg("redis publish failed")
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

// LastStatus returns the last published status event of a device.
func (n *RedisNotifier) LastStatus(ctx context.Context, deviceID string) (Event, bool, error) {
	data, err := n.client.Get(ctx, StateKey(deviceID)).Bytes()
	if err == redis.Nil {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, false, fmt.Errorf("decode status: %w", err)
	}
	return ev, true, nil
}

// HealthCheck checks if Redis is available.
func (n *RedisNotifier) HealthCheck(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
