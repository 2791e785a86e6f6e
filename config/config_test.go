package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/ovpn-manager/common"
)

func TestLoad_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.OpenVPNBinary != "openvpn" {
		t.Errorf("OpenVPNBinary = %q, want %q", cfg.OpenVPNBinary, "openvpn")
	}
	if cfg.StopTimeout != 10*time.Second {
		t.Errorf("StopTimeout = %v, want 10s", cfg.StopTimeout)
	}
	if cfg.LogBufferSize != 2048 {
		t.Errorf("LogBufferSize = %d, want 2048", cfg.LogBufferSize)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config was not written: %v", err)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg.UsePkexec = false
	cfg.StopTimeout = 3 * time.Second
	cfg.History.Retention = 48 * time.Hour
	cfg.Health.Enabled = true
	cfg.Health.TestHosts = []string{"10.0.0.1:443"}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.UsePkexec {
		t.Error("UsePkexec should be false")
	}
	if loaded.StopTimeout != 3*time.Second {
		t.Errorf("StopTimeout = %v, want 3s", loaded.StopTimeout)
	}
	if loaded.History.Retention != 48*time.Hour {
		t.Errorf("History.Retention = %v, want 48h", loaded.History.Retention)
	}
	if !loaded.Health.Enabled || len(loaded.Health.TestHosts) != 1 {
		t.Errorf("Health = %+v", loaded.Health)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "theme: dark\n"},
		{"bad duration", "stop_timeout: soon\n"},
		{"bad management host", "management_host: vpn.example.com\n"},
		{"bad test host", "health:\n  test_hosts: [\"1.1.1.1\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			_, err := Load(path)
			if !errors.Is(err, common.ErrConfigLoad) {
				t.Errorf("Load() error = %v, want %v", err, common.ErrConfigLoad)
			}
		})
	}
}

func TestValidate_Clamps(t *testing.T) {
	cfg := &Config{
		LogLevel:      "LOUD",
		LogBufferSize: -4,
		StopTimeout:   -time.Second,
		Health:        HealthConfig{FailureThreshold: 0, MaxReconnectAttempts: -1},
	}

	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	def := DefaultConfig()
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.LogBufferSize != def.LogBufferSize {
		t.Errorf("LogBufferSize = %d, want %d", cfg.LogBufferSize, def.LogBufferSize)
	}
	if cfg.StopTimeout != def.StopTimeout {
		t.Errorf("StopTimeout = %v, want %v", cfg.StopTimeout, def.StopTimeout)
	}
	if cfg.OpenVPNBinary != "openvpn" || cfg.ManagementHost != "127.0.0.1" {
		t.Errorf("defaults not applied: %q %q", cfg.OpenVPNBinary, cfg.ManagementHost)
	}
	if cfg.Health.FailureThreshold != 3 || cfg.Health.MaxReconnectAttempts != 0 {
		t.Errorf("Health = %+v", cfg.Health)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.ShowNotifications || !cfg.History.Enabled {
		t.Error("unset keys should keep their defaults")
	}
}

func TestHistoryPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History.Path = "/tmp/h.db"

	got, err := cfg.HistoryPath()
	if err != nil || got != "/tmp/h.db" {
		t.Errorf("HistoryPath() = %q, %v", got, err)
	}
}
