package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsInvalidWithoutChannels(t *testing.T) {
	// Defaults deliberately omit channels: the relay has nothing sensible to
	// bridge without operator input.
	err := Default().Validate()
	assert.Error(t, err)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"host": "127.0.0.1", "port": 9000, "path": "/ws"},
		"nats": {"url": "nats://example:4222", "reconnect_wait": "5s"},
		"channels": {
			"names": ["vehicles", "alerts"],
			"patterns": ["fleet.*"],
			"allowed": ["vehicles"]
		},
		"geo": {"enabled": true, "default_reference": "epsg:4326"},
		"session": {"queue_size": 64, "max_lifetime": "1h", "commands": ["GET", "SUB"]},
		"metrics": {"enabled": false}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, "nats://example:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait.Std())
	assert.Equal(t, []string{"vehicles", "alerts"}, cfg.Channels.Names)
	assert.Equal(t, []string{"fleet.*"}, cfg.Channels.Patterns)
	assert.Equal(t, []string{"vehicles"}, cfg.Channels.Allowed)
	assert.Equal(t, 64, cfg.Session.QueueSize)
	assert.Equal(t, time.Hour, cfg.Session.MaxLifetime.Std())
	assert.Equal(t, []string{"GET", "SUB"}, cfg.Session.Commands)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `{"channels": {"names": ["vehicles"]}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8325, cfg.Server.Port)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 256, cfg.Session.QueueSize)
	assert.True(t, cfg.Geo.Enabled)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_NATS_HOST", "nats-prod")
	path := writeConfig(t, `{
		"nats": {"url": "nats://${TEST_NATS_HOST}:4222"},
		"channels": {"names": ["vehicles"]}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://nats-prod:4222", cfg.NATS.URL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEORELAY_SERVER_PORT", "7777")
	t.Setenv("GEORELAY_CHANNELS", "a, b ,c")
	path := writeConfig(t, `{"channels": {"names": ["vehicles"]}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Channels.Names)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.json")
	assert.Error(t, err)
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDuration_UnmarshalErrors(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
	assert.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, 90*time.Second, d.Std())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Channels.Names = []string{"vehicles"}
		return cfg
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative port", func(c *Config) { c.Server.Port = -1 }},
		{"path without slash", func(c *Config) { c.Server.Path = "ws" }},
		{"empty NATS url", func(c *Config) { c.NATS.URL = "" }},
		{"no channels", func(c *Config) { c.Channels.Names = nil }},
		{"zero queue size", func(c *Config) { c.Session.QueueSize = 0 }},
		{"geo without reference", func(c *Config) { c.Geo.DefaultReference = "" }},
		{"metrics port out of range", func(c *Config) { c.Metrics.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
