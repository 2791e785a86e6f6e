// Package vpn provides VPN connection management functionality.
// This file contains the Profile and ProfileManager types for managing
// VPN connection profiles.
package vpn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/ovpn-manager/common"
)

// Profile represents a VPN connection profile.
// It contains all the necessary information to establish a VPN connection,
// including the path to the OpenVPN configuration file and user credentials.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable name for the profile.
	Name string `json:"name" yaml:"name"`
	// ConfigPath is the path to the OpenVPN configuration file.
	ConfigPath string `json:"config_path" yaml:"config_path"`
	// Username is the optional username for authentication.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// AutoConnect indicates whether to connect automatically on startup.
	AutoConnect bool `json:"auto_connect" yaml:"auto_connect"`
	// SavePassword indicates whether to save the password in the keyring.
	SavePassword bool `json:"save_password" yaml:"save_password"`
	// ManagementPort is the management interface port; 0 picks a free one.
	ManagementPort int `json:"management_port,omitempty" yaml:"management_port,omitempty"`
	// ExtraArgs are appended to the openvpn command line.
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
	// Created is the timestamp when the profile was created.
	Created time.Time `json:"created" yaml:"created"`
	// LastUsed is the timestamp when the profile was last used.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// ProfileManager manages VPN profiles.
// It handles loading, saving, and manipulating profiles stored on disk.
// It is safe for concurrent use; returned profiles are copies.
type ProfileManager struct {
	mu         sync.RWMutex
	profiles   []*Profile
	configDir  string
	configFile string
}

// NewProfileManager creates a ProfileManager rooted at configDir and loads
// existing profiles. An empty configDir selects the user config directory.
func NewProfileManager(configDir string) (*ProfileManager, error) {
	if configDir == "" {
		dir, err := common.GetConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	pm := &ProfileManager{
		profiles:   make([]*Profile, 0),
		configDir:  configDir,
		configFile: filepath.Join(configDir, common.ProfilesFileName),
	}

	if err := pm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return pm, nil
}

// Load loads profiles from the configuration file.
// Returns nil if the file doesn't exist (no profiles yet).
func (pm *ProfileManager) Load() error {
	data, err := os.ReadFile(pm.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.profiles = profiles
	return nil
}

// save persists profiles. Callers hold pm.mu.
func (pm *ProfileManager) save() error {
	data, err := yaml.Marshal(&pm.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}

	if err := os.WriteFile(pm.configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}

	return nil
}

// Add adds a new profile to the manager.
// It validates the configuration file, generates a unique ID,
// and copies the config file to the application's directory.
func (pm *ProfileManager) Add(profile *Profile) error {
	if profile.Name == "" {
		profile.Name = strings.TrimSuffix(filepath.Base(profile.ConfigPath), filepath.Ext(profile.ConfigPath))
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	if err := validateConfigFile(profile.ConfigPath); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.profiles {
		if strings.EqualFold(p.Name, profile.Name) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, profile.Name)
		}
	}

	if profile.ID == "" {
		profile.ID = common.GenerateID()
	}
	profile.Created = time.Now()

	configsDir := filepath.Join(pm.configDir, "configs")
	if err := os.MkdirAll(configsDir, 0700); err != nil {
		return fmt.Errorf("failed to create configs directory: %w", err)
	}

	destPath := filepath.Join(configsDir, profile.ID+".ovpn")
	if err := copyFile(profile.ConfigPath, destPath); err != nil {
		return fmt.Errorf("failed to copy config file: %w", err)
	}

	stored := *profile
	stored.ConfigPath = destPath
	profile.ConfigPath = destPath
	pm.profiles = append(pm.profiles, &stored)

	return pm.save()
}

// Remove removes a profile by ID and deletes its copied configuration file.
func (pm *ProfileManager) Remove(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, profile := range pm.profiles {
		if profile.ID == id {
			if err := os.Remove(profile.ConfigPath); err != nil && !os.IsNotExist(err) {
				common.LogWarn("Could not remove %s: %v", profile.ConfigPath, err)
			}

			pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
			return pm.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// Get retrieves a profile by ID.
func (pm *ProfileManager) Get(id string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, profile := range pm.profiles {
		if profile.ID == id {
			return profile.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// GetByName retrieves a profile by name.
func (pm *ProfileManager) GetByName(name string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, profile := range pm.profiles {
		if profile.Name == name {
			return profile.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// Find resolves a profile from user input: an exact ID, a name compared
// without case, or an unambiguous ID prefix.
func (pm *ProfileManager) Find(ref string) (*Profile, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrProfileNotFound)
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, p := range pm.profiles {
		if p.ID == ref || strings.EqualFold(p.Name, ref) {
			return p.clone(), nil
		}
	}

	var match *Profile
	short := strings.ReplaceAll(strings.ToLower(ref), "-", "")
	for _, p := range pm.profiles {
		if strings.HasPrefix(strings.ReplaceAll(p.ID, "-", ""), short) {
			if match != nil {
				return nil, fmt.Errorf("%w: %q matches more than one profile", ErrProfileNotFound, ref)
			}
			match = p
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
	}
	return match.clone(), nil
}

// List returns all profiles.
func (pm *ProfileManager) List() []*Profile {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]*Profile, 0, len(pm.profiles))
	for _, p := range pm.profiles {
		out = append(out, p.clone())
	}
	return out
}

// Update updates an existing profile.
func (pm *ProfileManager) Update(profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, p := range pm.profiles {
		if p.ID == profile.ID {
			pm.profiles[i] = profile.clone()
			return pm.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, profile.ID)
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (pm *ProfileManager) MarkUsed(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.profiles {
		if p.ID == id {
			p.LastUsed = time.Now()
			return pm.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// validateConfigFile checks if the given file is a valid OpenVPN configuration.
func validateConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}

	if info.IsDir() {
		return ErrInvalidConfig
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return fmt.Errorf("%w: expected .ovpn or .conf extension", ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	requiredDirectives := []string{"remote", "client"}
	hasRequired := false
	for _, directive := range requiredDirectives {
		if strings.Contains(content, directive) {
			hasRequired = true
			break
		}
	}

	if !hasRequired {
		return fmt.Errorf("%w: missing required OpenVPN directives", ErrInvalidConfig)
	}

	return nil
}

// copyFile copies a file from src to dst with secure permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	return nil
}

func (p *Profile) clone() *Profile {
	c := *p
	if p.ExtraArgs != nil {
		c.ExtraArgs = append([]string(nil), p.ExtraArgs...)
	}
	return &c
}

// ToJSON converts the profile to a JSON string.
// Useful for debugging and logging.
func (p *Profile) ToJSON() string {
	data, _ := json.MarshalIndent(p, "", "  ")
	return string(data)
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, errors.New("profile name is required"))
	}
	if p.ConfigPath == "" {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, errors.New("config path is required"))
	}
	if p.ManagementPort < 0 || p.ManagementPort > 65535 {
		return fmt.Errorf("%w: management port %d out of range", ErrInvalidProfile, p.ManagementPort)
	}
	return nil
}
