package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Adapter   string        `yaml:"adapter"`    // BlueZ controller name, e.g. "hci0"
	StorePath string        `yaml:"store_path"` // authorized-device record location
	Session   SessionConfig `yaml:"session"`
	Scan      ScanConfig    `yaml:"scan"`
	LogLevel  string        `yaml:"log_level"`
}

// SessionConfig holds connection state machine settings.
type SessionConfig struct {
	// StepTimeoutSeconds bounds each of connecting, service discovery and
	// characteristic discovery. 0 disables the watchdog.
	StepTimeoutSeconds int `yaml:"step_timeout_seconds"`
}

// ScanConfig holds device selection settings.
type ScanConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// StepTimeout returns the per-step watchdog as a duration.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Session.StepTimeoutSeconds) * time.Second
}

// ScanTimeout returns the selection scan window as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "halo")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Adapter:   "hci0",
		StorePath: filepath.Join(DefaultConfigDir(), "device.json"),
		Session: SessionConfig{
			StepTimeoutSeconds: 10,
		},
		Scan: ScanConfig{
			TimeoutSeconds: 15,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store_path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.StorePath = expandTilde(cfg.StorePath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}

	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}

	if c.Session.StepTimeoutSeconds < 0 {
		return fmt.Errorf("session.step_timeout_seconds must be >= 0")
	}

	if c.Scan.TimeoutSeconds <= 0 {
		return fmt.Errorf("scan.timeout_seconds must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
