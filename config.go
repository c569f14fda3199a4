// This file contains the TOML configuration for the relay daemon.
package chatrelay

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration wraps time.Duration so config values can be written as "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config is the daemon configuration file.
type Config struct {
	ListenAddr string `toml:"listen_addr"`

	// ServiceKey is the shared admission secret. It must match the key the
	// page-rendering side uses to mint channel ids.
	ServiceKey string `toml:"service_key"`

	DatabasePath string `toml:"database_path"`

	// RedisAddr enables the Redis external feed when non-empty; otherwise a
	// local in-process feed is used.
	RedisAddr   string `toml:"redis_addr"`
	FeedChannel string `toml:"feed_channel"`

	GracePeriod       Duration `toml:"grace_period"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`

	CheckOrigin    bool     `toml:"check_origin"`
	AllowedOrigins []string `toml:"allowed_origins"`
	MaxMessageSize int64    `toml:"max_message_size"`
	MaxConnections int      `toml:"max_connections"`
	PingInterval   Duration `toml:"ping_interval"`
	PongWait       Duration `toml:"pong_wait"`
	WriteWait      Duration `toml:"write_wait"`
}

// DefaultConfig returns the configuration used when a key is absent from
// the file.
func DefaultConfig() *Config {
	opts := DefaultOptions()
	return &Config{
		ListenAddr:        ":8013",
		DatabasePath:      "chatrelay.db",
		FeedChannel:       "chatrelay:feed",
		GracePeriod:       Duration{opts.GracePeriod},
		HeartbeatInterval: Duration{opts.HeartbeatInterval},
		MaxMessageSize:    opts.MaxMessageSize,
		PingInterval:      Duration{opts.PingInterval},
		PongWait:          Duration{opts.PongWait},
		WriteWait:         Duration{opts.WriteWait},
	}
}

// LoadConfig reads the TOML file at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields with no usable defaults.
func (c *Config) Validate() error {
	if c.ServiceKey == "" {
		return fmt.Errorf("config: service_key must be set")
	}
	if c.GracePeriod.Duration < 0 {
		return fmt.Errorf("config: grace_period must not be negative")
	}
	return nil
}

// options maps the configuration onto engine and transport Options.
func (c *Config) options() *Options {
	opts := DefaultOptions()
	opts.ServiceKey = c.ServiceKey
	opts.CheckOrigin = c.CheckOrigin
	opts.AllowedOrigins = c.AllowedOrigins
	opts.MaxConnections = c.MaxConnections
	if c.MaxMessageSize > 0 {
		opts.MaxMessageSize = c.MaxMessageSize
	}
	if c.GracePeriod.Duration > 0 {
		opts.GracePeriod = c.GracePeriod.Duration
	}
	if c.HeartbeatInterval.Duration > 0 {
		opts.HeartbeatInterval = c.HeartbeatInterval.Duration
	}
	if c.PingInterval.Duration > 0 {
		opts.PingInterval = c.PingInterval.Duration
	}
	if c.PongWait.Duration > 0 {
		opts.PongWait = c.PongWait.Duration
	}
	if c.WriteWait.Duration > 0 {
		opts.WriteWait = c.WriteWait.Duration
	}
	return opts
}
