// Package config provides configuration management for OpenVPN Manager.
// It handles loading, saving, and managing application settings.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/ovpn-manager/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// OpenVPNBinary is the openvpn executable.
	OpenVPNBinary string `yaml:"openvpn_binary"`
	// UsePkexec runs openvpn through pkexec for root privileges.
	UsePkexec bool `yaml:"use_pkexec"`
	// ManagementHost is the address management interfaces listen on.
	ManagementHost string `yaml:"management_host"`
	// StopTimeout is how long a client may take to stop before it is killed.
	StopTimeout time.Duration `yaml:"stop_timeout"`
	// LogBufferSize is the number of log lines front ends keep.
	LogBufferSize int `yaml:"log_buffer_size"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogToFile also writes the application log under the config directory.
	LogToFile bool `yaml:"log_to_file"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// History controls the session and log database.
	History HistoryConfig `yaml:"history"`
	// Health controls connection health checks.
	Health HealthConfig `yaml:"health"`

	path string
}

// HistoryConfig controls persistence of sessions and log events.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path of the SQLite database. Empty selects the data directory.
	Path string `yaml:"path"`
	// Retention is how long records are kept.
	Retention time.Duration `yaml:"retention"`
}

// HealthConfig controls the connection health checker.
type HealthConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	TestHosts            []string      `yaml:"test_hosts"`
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		OpenVPNBinary:     common.DefaultOpenVPNBinary,
		UsePkexec:         true,
		ManagementHost:    common.DefaultManagementHost,
		StopTimeout:       common.StopTimeout,
		LogBufferSize:     common.LogBufferCapacity,
		LogLevel:          "info",
		LogToFile:         true,
		ShowNotifications: true,
		History: HistoryConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Health: HealthConfig{
			Enabled:              false,
			Interval:             30 * time.Second,
			FailureThreshold:     3,
			AutoReconnect:        true,
			MaxReconnectAttempts: 5,
			TestHosts:            []string{"1.1.1.1:53", "8.8.8.8:53"},
		},
	}
}

// DefaultPath returns the location of config.yaml.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from path, or from DefaultPath when path
// is empty. If the file doesn't exist, it creates one with default values.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening configuration: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	// Start from defaults so missing keys keep sensible values.
	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing configuration: %v", common.ErrConfigLoad, err)
	}
	config.path = path

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration: %v", common.ErrConfigLoad, err)
	}

	return config, nil
}

// validate verifies that configuration values are valid. Out of range
// values fall back to their defaults.
func (c *Config) validate() error {
	def := DefaultConfig()

	if strings.TrimSpace(c.OpenVPNBinary) == "" {
		c.OpenVPNBinary = def.OpenVPNBinary
	}
	if c.ManagementHost == "" {
		c.ManagementHost = def.ManagementHost
	}
	if net.ParseIP(c.ManagementHost) == nil && c.ManagementHost != "localhost" {
		return fmt.Errorf("management_host %q is not an IP address", c.ManagementHost)
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.LogBufferSize <= 0 {
		c.LogBufferSize = def.LogBufferSize
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if !slices.Contains(validLogLevels, c.LogLevel) {
		c.LogLevel = def.LogLevel
	}
	if c.History.Retention < 0 {
		c.History.Retention = def.History.Retention
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = def.Health.Interval
	}
	if c.Health.FailureThreshold <= 0 {
		c.Health.FailureThreshold = def.Health.FailureThreshold
	}
	if c.Health.MaxReconnectAttempts < 0 {
		c.Health.MaxReconnectAttempts = 0
	}
	if len(c.Health.TestHosts) == 0 {
		c.Health.TestHosts = def.Health.TestHosts
	}
	for _, host := range c.Health.TestHosts {
		if _, _, err := net.SplitHostPort(host); err != nil {
			return fmt.Errorf("test host %q: %w", host, err)
		}
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// HistoryPath returns the database location, resolving the default.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.HistoryFileName), nil
}

// Save saves the configuration to the file it was loaded from.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
		}
		path = p
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: error saving configuration: %v", common.ErrConfigSave, err)
	}

	return nil
}
