// Package config loads the broker daemon configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	UnixSocket         string        `yaml:"unix_socket"`
	ListenAddr         string        `yaml:"listen_addr"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	DBUrl              string        `yaml:"db_url"`
	MigrationsDir      string        `yaml:"migrations_dir"`
	LogLevel           string        `yaml:"log_level"`
	TokenSweepInterval time.Duration `yaml:"token_sweep_interval"`
	DefaultTokenTTL    time.Duration `yaml:"default_token_ttl"`
	TrustHAPeers       bool          `yaml:"trust_ha_peers"`
	OTPIssuer          string        `yaml:"otp_issuer"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		UnixSocket:         "/var/run/authbroker.sock",
		ListenAddr:         "127.0.0.1:6000",
		MetricsAddr:        "127.0.0.1:9464",
		MigrationsDir:      "migrations",
		LogLevel:           "info",
		TokenSweepInterval: time.Minute,
		DefaultTokenTTL:    600 * time.Second,
		OTPIssuer:          "authbroker",
	}
}

// Load reads path over the defaults and applies env overrides. A missing
// file is not an error; found reports whether it existed.
func Load(path string) (cfg Config, found bool, err error) {
	cfg = Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		found = true
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, found, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, false, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := os.Getenv("BROKER_UNIX_SOCKET"); v != "" {
		cfg.UnixSocket = v
	}
	if v := os.Getenv("BROKER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	return cfg, found, cfg.Validate()
}

// Path returns the config file location, honouring BROKER_CONFIG.
func Path() string {
	if v := os.Getenv("BROKER_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// Validate checks for settings the daemon cannot start with.
func (c Config) Validate() error {
	if c.UnixSocket == "" && c.ListenAddr == "" {
		return errors.New("at least one of unix_socket or listen_addr must be set")
	}
	if c.TokenSweepInterval <= 0 {
		return errors.New("token_sweep_interval must be positive")
	}
	if c.DefaultTokenTTL <= 0 {
		return errors.New("default_token_ttl must be positive")
	}
	if c.OTPIssuer == "" {
		return errors.New("otp_issuer must not be empty")
	}
	return nil
}
