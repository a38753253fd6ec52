package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Adapter != "hci0" {
		t.Errorf("Adapter = %q, want %q", cfg.Adapter, "hci0")
	}
	if cfg.StorePath == "" {
		t.Error("StorePath should not be empty")
	}
	if cfg.Session.StepTimeoutSeconds != 10 {
		t.Errorf("Session.StepTimeoutSeconds = %d, want 10", cfg.Session.StepTimeoutSeconds)
	}
	if cfg.Scan.TimeoutSeconds != 15 {
		t.Errorf("Scan.TimeoutSeconds = %d, want 15", cfg.Scan.TimeoutSeconds)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.StepTimeout(); got != 10*time.Second {
		t.Errorf("StepTimeout() = %v, want 10s", got)
	}
	if got := cfg.ScanTimeout(); got != 15*time.Second {
		t.Errorf("ScanTimeout() = %v, want 15s", got)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "adapter: hci1\nsession:\n  step_timeout_seconds: 5\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Adapter != "hci1" {
		t.Errorf("Adapter = %q, want %q", cfg.Adapter, "hci1")
	}
	if cfg.Session.StepTimeoutSeconds != 5 {
		t.Errorf("Session.StepTimeoutSeconds = %d, want 5", cfg.Session.StepTimeoutSeconds)
	}
	// Fields not in the file keep their defaults.
	if cfg.Scan.TimeoutSeconds != 15 {
		t.Errorf("Scan.TimeoutSeconds = %d, want default 15", cfg.Scan.TimeoutSeconds)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store_path: ~/rings/device.json\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if strings.HasPrefix(cfg.StorePath, "~") {
		t.Errorf("StorePath = %q, tilde should be expanded", cfg.StorePath)
	}
	if !strings.HasSuffix(cfg.StorePath, filepath.Join("rings", "device.json")) {
		t.Errorf("StorePath = %q, want suffix rings/device.json", cfg.StorePath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file should error")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("adapter: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() of malformed YAML should error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty adapter", func(c *Config) { c.Adapter = "" }, "adapter"},
		{"empty store path", func(c *Config) { c.StorePath = "" }, "store_path"},
		{"negative step timeout", func(c *Config) { c.Session.StepTimeoutSeconds = -1 }, "step_timeout_seconds"},
		{"zero scan timeout", func(c *Config) { c.Scan.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}

	// Zero step timeout disables the watchdog and is allowed.
	cfg := Default()
	cfg.Session.StepTimeoutSeconds = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with zero step timeout = %v, want nil", err)
	}
}
