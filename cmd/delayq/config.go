package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pinkmango/delayq/pkg/msgstore"
)

// Storage backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Duration wraps time.Duration so yaml values can be written as "300s" or
// "5m" instead of raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the driver configuration.
type Config struct {
	Backend          string        `yaml:"backend"`
	VisibilityWindow Duration      `yaml:"visibility_window"`
	RetentionGrace   Duration      `yaml:"retention_grace"`
	SweepInterval    Duration      `yaml:"sweep_interval"`
	Topics           []string      `yaml:"topics"`
	Redis            RedisSettings `yaml:"redis"`
}

// RedisSettings holds the connection settings for the redis backend.
type RedisSettings struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns a Config with the stock demo topology.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendMemory,
		VisibilityWindow: Duration(msgstore.DefaultVisibilityWindow),
		RetentionGrace:   Duration(msgstore.DefaultRetentionGrace),
		SweepInterval:    Duration(msgstore.DefaultSweepInterval),
		Topics: []string{
			"queue/fast-delivery-items",
			"queue/long-distance-items",
		},
		Redis: RedisSettings{
			Addr:      "localhost:6379",
			KeyPrefix: msgstore.DefaultKeyPrefix,
		},
	}
}

// LoadConfig reads configuration from the given path. A missing or empty
// path returns the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.VisibilityWindow <= 0 {
		c.VisibilityWindow = defaults.VisibilityWindow
	}
	if c.RetentionGrace <= 0 {
		c.RetentionGrace = defaults.RetentionGrace
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if len(c.Topics) == 0 {
		c.Topics = defaults.Topics
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaults.Redis.Addr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaults.Redis.KeyPrefix
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Backend != BackendMemory && c.Backend != BackendRedis {
		return fmt.Errorf("backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Backend)
	}
	for _, topic := range c.Topics {
		if topic == "" {
			return fmt.Errorf("topics cannot contain an empty name")
		}
	}
	return nil
}
