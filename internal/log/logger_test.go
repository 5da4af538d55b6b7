// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconfigureAttachesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "camvisor-test", Version: "v1.2.3"})
	t.Cleanup(func() { Reconfigure(Config{}) })

	l := WithDevice("supervisor", "cam-1")
	l.Debug().Str(FieldEvent, "supervisor.test").Msg("ping")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "camvisor-test", entry["service"])
	assert.Equal(t, "v1.2.3", entry["version"])
	assert.Equal(t, "supervisor", entry[FieldComponent])
	assert.Equal(t, "cam-1", entry[FieldDeviceID])
	assert.Equal(t, "supervisor.test", entry[FieldEvent])
}

func TestDeriveAppliesBuilder(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Output: &buf})
	t.Cleanup(func() { Reconfigure(Config{}) })

	l := Derive(nil)
	l.Info().Msg("no builder")
	buf.Reset()

	l = Derive(func(c *zerolog.Context) { *c = c.Str(FieldRole, "snapshot") })
	l.Info().Msg("with builder")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "snapshot", entry[FieldRole])
}
