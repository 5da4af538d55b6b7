// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
)

// EnvPrefix prefixes every environment key.
const EnvPrefix = "CAMVISOR_"

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "password") || strings.Contains(lower, "token")
}

func logSource(logger zerolog.Logger, key, value string) {
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", value)
	}
	ev.Msg("using environment variable")
}

func invalid(logger zerolog.Logger, key, value, kind string) {
	logger.Warn().
		Str("key", key).
		Str("value", value).
		Msgf("invalid %s in environment variable, keeping current value", kind)
}

// ParseString reads key or returns def when unset or empty.
func ParseString(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logSource(log.WithComponent("config"), key, v)
	return v
}

// ParseInt reads an integer, falling back to def on parse errors.
func ParseInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		invalid(logger, key, v, "integer")
		return def
	}
	logSource(logger, key, v)
	return i
}

// ParseBool reads a boolean in strconv.ParseBool syntax.
func ParseBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		invalid(logger, key, v, "boolean")
		return def
	}
	logSource(logger, key, v)
	return b
}

// ParseDuration reads a Go duration such as "5s".
func ParseDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		invalid(logger, key, v, "duration")
		return def
	}
	logSource(logger, key, v)
	return d
}

// ParseFloat reads a float64.
func ParseFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		invalid(logger, key, v, "float")
		return def
	}
	logSource(logger, key, v)
	return f
}

// ParseList reads a comma separated list; blank entries are dropped.
func ParseList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	logSource(log.WithComponent("config"), key, v)
	return out
}
