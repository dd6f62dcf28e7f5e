package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultAddress = "unix:///var/run/authbroker.sock"

// CLIConfig is what `authctl login` remembers between runs.
type CLIConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

var cfg CLIConfig

// configPath honours AUTHCTL_CONFIG, then ~/.authctl/config.yaml.
func configPath() string {
	if p := os.Getenv("AUTHCTL_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".authctl", "config.yaml")
}

// loadConfig reads the config file over the defaults. A missing file is
// not an error. A file holding an API key must not be readable by group
// or others.
func loadConfig() error {
	cfg = CLIConfig{Address: defaultAddress}

	path := configPath()
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
	if cfg.APIKey != "" && info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("%s holds an API key but has mode %04o; run chmod 600 on it", path, info.Mode().Perm())
	}
	if _, _, err := parseAddress(cfg.Address); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// saveConfig replaces the config file atomically, owner-readable only.
func saveConfig() error {
	path := configPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// parseAddress splits a broker address into a dial network and address.
// Accepted forms are unix:///abs/path and host:port.
func parseAddress(addr string) (network, address string, err error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		if !filepath.IsAbs(path) {
			return "", "", fmt.Errorf("unix address %q needs an absolute socket path", addr)
		}
		return "unix", path, nil
	}
	if scheme, _, ok := strings.Cut(addr, "://"); ok {
		return "", "", fmt.Errorf("unsupported address scheme %q", scheme)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return "tcp", addr, nil
}
