// Package config loads and validates the relay configuration from JSON, with
// environment variable overrides for deployment-specific values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/georelay/errors"
)

// EnvPrefix is prepended to the environment variable names checked by Load.
const EnvPrefix = "GEORELAY"

// Duration wraps time.Duration to accept JSON strings like "30s" as well as
// integer nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration type %T", raw)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the websocket listener
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

// NATSConfig configures the backend connection
type NATSConfig struct {
	URL           string   `json:"url"`
	Name          string   `json:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
	DrainTimeout  Duration `json:"drain_timeout,omitempty"`
}

// ChannelsConfig names the channels the relay bridges. Names are concrete
// channels; Patterns are subject-style wildcards. Allowed restricts what
// clients may subscribe to or read; empty means everything is allowed.
type ChannelsConfig struct {
	Names    []string `json:"names,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
	Allowed  []string `json:"allowed,omitempty"`
}

// GeoConfig configures the geographic filtering extension
type GeoConfig struct {
	Enabled          bool   `json:"enabled"`
	DefaultReference string `json:"default_reference,omitempty"`
}

// SessionConfig configures per-connection behavior
type SessionConfig struct {
	QueueSize   int      `json:"queue_size,omitempty"`
	MaxLifetime Duration `json:"max_lifetime,omitempty"`
	Commands    []string `json:"commands,omitempty"` // empty = all registered commands
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Config represents the complete relay configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	NATS     NATSConfig     `json:"nats"`
	Channels ChannelsConfig `json:"channels"`
	Geo      GeoConfig      `json:"geo"`
	Session  SessionConfig  `json:"session"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8325,
			Path: "/",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "georelay",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
			DrainTimeout:  Duration(30 * time.Second),
		},
		Geo: GeoConfig{
			Enabled:          true,
			DefaultReference: "epsg:4326",
		},
		Session: SessionConfig{
			QueueSize:   256,
			MaxLifetime: Duration(24 * time.Hour),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load reads the configuration file at path, expands ${VAR} references from
// the environment, merges it over the defaults, and applies environment
// variable overrides. An empty path returns the defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		expanded := os.Expand(string(data), func(key string) string {
			return os.Getenv(key)
		})
		if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies GEORELAY_* environment variables over the loaded
// values. Only deployment-specific knobs are exposed this way.
func (c *Config) applyEnvOverrides() {
	if val := os.Getenv(EnvPrefix + "_SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv(EnvPrefix + "_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Server.Port = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		c.NATS.URL = val
	}
	if val := os.Getenv(EnvPrefix + "_CHANNELS"); val != "" {
		c.Channels.Names = splitList(val)
	}
	if val := os.Getenv(EnvPrefix + "_CHANNEL_PATTERNS"); val != "" {
		c.Channels.Patterns = splitList(val)
	}
	if val := os.Getenv(EnvPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("server port %d out of range", c.Server.Port),
			"Config", "Validate", "check server port")
	}
	if c.Server.Path == "" || !strings.HasPrefix(c.Server.Path, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("server path %q must start with /", c.Server.Path),
			"Config", "Validate", "check server path")
	}
	if c.NATS.URL == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig,
			"Config", "Validate", "check NATS URL")
	}
	if len(c.Channels.Names)+len(c.Channels.Patterns) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("no channels configured"),
			"Config", "Validate", "check channels")
	}
	if c.Session.QueueSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("session queue size %d must be positive", c.Session.QueueSize),
			"Config", "Validate", "check session queue size")
	}
	if c.Geo.Enabled && c.Geo.DefaultReference == "" {
		return errors.WrapInvalid(
			fmt.Errorf("geo enabled without a default reference"),
			"Config", "Validate", "check geo reference")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(
			fmt.Errorf("metrics port %d out of range", c.Metrics.Port),
			"Config", "Validate", "check metrics port")
	}
	return nil
}
