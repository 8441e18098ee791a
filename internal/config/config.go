// Package config loads hostlink settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is read when no config file is named. It may be absent.
const DefaultPath = "hostlink.yaml"

// Config holds all configuration for hostlink.
type Config struct {
	DBPath   string `yaml:"db" env:"HOSTLINK_DB" env-default:"hostlink.db"`
	BindAddr string `yaml:"bind_addr" env:"HOSTLINK_BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"HOSTLINK_PORT" env-default:"8080"`

	Log       LogConfig       `yaml:"log"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level  string `yaml:"level" env:"HOSTLINK_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"HOSTLINK_LOG_FORMAT" env-default:"console"`
}

// DiscoveryConfig holds discovery cycle settings.
type DiscoveryConfig struct {
	// LostHostLifetime is how long a host may stay undiscovered before it is
	// removed. Zero removes it on the first cycle that misses it.
	LostHostLifetime time.Duration `yaml:"lost_host_lifetime" env:"HOSTLINK_DISCOVERY_LIFETIME" env-default:"720h"`
}

// Load reads path with environment overrides. An empty path means
// DefaultPath, which is skipped when it does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	case errors.Is(statErr, fs.ErrNotExist) && !explicit:
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	default:
		return nil, fmt.Errorf("stat %s: %w", path, statErr)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return errors.New("db path is empty")
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port %q is not a valid TCP port", c.Port)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format %q must be json or console", c.Log.Format)
	}
	if c.Discovery.LostHostLifetime < 0 {
		return errors.New("lost_host_lifetime must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}
