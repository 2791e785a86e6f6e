// Package vpn provides VPN connection management functionality.
// This file contains the Manager type which runs one Supervisor per
// profile and shares a single Hub between them.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/yllada/ovpn-manager/common"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrAlreadyRunning  = common.ErrAlreadyRunning
	ErrNotRunning      = common.ErrNotRunning
	ErrSpawnFailure    = common.ErrSpawnFailure
	ErrUnexpectedExit  = common.ErrUnexpectedExit
	ErrTimeout         = common.ErrTimeout
	ErrProfileNotFound = common.ErrProfileNotFound
	ErrInvalidConfig   = common.ErrInvalidConfig
	ErrDuplicateName   = common.ErrDuplicateName
	ErrInvalidProfile  = common.ErrInvalidProfile
)

// ManagerConfig controls how the Manager builds client command lines.
type ManagerConfig struct {
	// ConfigDir holds profiles.yaml and the copied configs.
	ConfigDir string
	// OpenVPNBinary is the client executable.
	OpenVPNBinary string
	// UsePkexec runs the client through pkexec.
	UsePkexec bool
	// ManagementHost is where client management interfaces listen.
	ManagementHost string
	// StopTimeout bounds a graceful stop before the client is killed.
	StopTimeout time.Duration
	// Credentials provides saved passwords. May be nil.
	Credentials common.CredentialStore
	// Launcher and Dialer default to the exec and TCP implementations.
	Launcher Launcher
	Dialer   ManagementDialer
	Logger   common.Logger
}

// Manager orchestrates VPN connections.
// It keeps a supervisor per profile and provides methods
// to connect, disconnect, and query connection state.
type Manager struct {
	cfg            ManagerConfig
	log            common.Logger
	profileManager *ProfileManager
	hub            *Hub

	mu          sync.RWMutex
	supervisors map[string]*Supervisor
}

// NewManager creates a new VPN connection manager.
// It initializes the profile manager and the event hub.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	pm, err := NewProfileManager(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile manager: %w", err)
	}

	if cfg.OpenVPNBinary == "" {
		cfg.OpenVPNBinary = common.DefaultOpenVPNBinary
	}
	if cfg.ManagementHost == "" {
		cfg.ManagementHost = common.DefaultManagementHost
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = common.StopTimeout
	}
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewTCPManagementDialer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = common.GetLogger().WithComponent("manager")
	}

	return &Manager{
		cfg:            cfg,
		log:            logger,
		profileManager: pm,
		hub:            NewHub(),
		supervisors:    make(map[string]*Supervisor),
	}, nil
}

// ProfileManager returns the associated profile manager.
func (m *Manager) ProfileManager() *ProfileManager {
	return m.profileManager
}

// Hub returns the hub every supervisor publishes to.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Subscribe registers an observer for all profiles.
func (m *Manager) Subscribe(o Observer) *Subscription {
	return m.hub.Subscribe(o)
}

// Supervisor returns the supervisor of a profile, if one was created.
func (m *Manager) Supervisor(profileID string) (*Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sup, ok := m.supervisors[profileID]
	return sup, ok
}

// Active returns the supervisors whose client is running.
func (m *Manager) Active() []*Supervisor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]*Supervisor, 0, len(m.supervisors))
	for _, sup := range m.supervisors {
		if sup.State().Active() {
			active = append(active, sup)
		}
	}
	return active
}

// Connect starts the client of a profile. An empty password is looked up
// in the credential store when the profile saves its password; a given
// password is stored for such profiles.
func (m *Manager) Connect(profileID, password string) error {
	profile, err := m.profileManager.Get(profileID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sup, ok := m.supervisors[profileID]; ok && sup.State() != StateStopped {
		// Let the supervisor report the rejection on the hub.
		return sup.Connect()
	}

	password = m.resolvePassword(profile, password)

	sup, err := m.newSupervisor(profile, password)
	if err != nil {
		m.diagf(profileID, "failed to prepare %s: %v", profile.Name, err)
		return err
	}
	m.supervisors[profileID] = sup

	if err := sup.Connect(); err != nil {
		return err
	}

	if err := m.profileManager.MarkUsed(profileID); err != nil {
		m.log.Warn("could not update last use of %s: %v", profile.Name, err)
	}
	return nil
}

func (m *Manager) resolvePassword(profile *Profile, password string) string {
	store := m.cfg.Credentials
	if store == nil || !profile.SavePassword {
		return password
	}

	if password != "" {
		if err := store.Store(profile.ID, password); err != nil {
			m.log.Warn("could not save password for %s: %v", profile.Name, err)
		}
		return password
	}

	saved, err := store.Get(profile.ID)
	if err != nil {
		if !errors.Is(err, common.ErrCredentialsNotFound) {
			m.log.Warn("could not read saved password for %s: %v", profile.Name, err)
		}
		return ""
	}
	return saved
}

// newSupervisor builds the launch spec for a profile.
func (m *Manager) newSupervisor(profile *Profile, password string) (*Supervisor, error) {
	args := []string{"--config", profile.ConfigPath, "--verb", "3"}

	port := profile.ManagementPort
	if port == 0 {
		p, err := common.FreeTCPPort(m.cfg.ManagementHost)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
		}
		port = p
	}
	args = append(args, ManagementArgs(m.cfg.ManagementHost, port)...)

	var credFile string
	if profile.Username != "" || password != "" {
		credFile = filepath.Join(os.TempDir(), common.ConfigDirName, "cred-"+common.ShortID(common.GenerateID()))
		args = append(args, "--auth-user-pass", credFile)
	}
	args = append(args, profile.ExtraArgs...)

	spec := LaunchSpec{
		Binary:         m.cfg.OpenVPNBinary,
		Args:           args,
		Dir:            filepath.Dir(profile.ConfigPath),
		ManagementAddr: net.JoinHostPort(m.cfg.ManagementHost, strconv.Itoa(port)),
	}
	if m.cfg.UsePkexec {
		spec.Args = append([]string{spec.Binary}, spec.Args...)
		spec.Binary = "pkexec"
	}

	cfg := SupervisorConfig{
		ProfileID:   profile.ID,
		Name:        profile.Name,
		Spec:        spec,
		Launcher:    m.cfg.Launcher,
		Dialer:      m.cfg.Dialer,
		Hub:         m.hub,
		StopTimeout: m.cfg.StopTimeout,
	}
	if credFile != "" {
		username := profile.Username
		cfg.OnBeforeStart = func() error {
			return writeCredentialsFile(credFile, username, password)
		}
		cfg.OnExit = func() {
			if err := os.Remove(credFile); err != nil && !os.IsNotExist(err) {
				m.log.Warn("could not remove credentials file: %v", err)
			}
		}
	}

	return NewSupervisor(cfg), nil
}

// writeCredentialsFile writes the username/password pair openvpn reads
// with --auth-user-pass.
func writeCredentialsFile(path, username, password string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	content := fmt.Sprintf("%s\n%s\n", username, password)
	return os.WriteFile(path, []byte(content), 0600)
}

// Disconnect asks the client of a profile to stop.
func (m *Manager) Disconnect(profileID string) error {
	sup, ok := m.Supervisor(profileID)
	if !ok {
		name := profileID
		if p, err := m.profileManager.Get(profileID); err == nil {
			name = p.Name
		}
		m.diagf(profileID, "disconnect ignored: %s is %s", name, StateStopped)
		return fmt.Errorf("%s: %w", name, ErrNotRunning)
	}
	return sup.Disconnect()
}

// diagf reports a rejected request on the hub as an internal log line.
func (m *Manager) diagf(profileID, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	m.log.Debug("%s", msg)
	m.hub.PublishLog(NewLogEvent(profileID, CategoryInternal, msg))
}

// DisconnectAll asks every running client to stop.
func (m *Manager) DisconnectAll() error {
	var errs []error
	for _, sup := range m.Active() {
		if err := sup.Disconnect(); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reconnect stops the client of a profile if it runs, waits for it to
// exit and starts it again with the saved credentials.
func (m *Manager) Reconnect(ctx context.Context, profileID string) error {
	if sup, ok := m.Supervisor(profileID); ok {
		if err := sup.Disconnect(); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
		if err := sup.WaitState(ctx, StateStopped); err != nil {
			return fmt.Errorf("%w: waiting for %s to stop: %v", ErrTimeout, sup.Name(), err)
		}
	}
	return m.Connect(profileID, "")
}

// Shutdown stops every client and waits until they have exited.
func (m *Manager) Shutdown(ctx context.Context) error {
	active := m.Active()
	err := m.DisconnectAll()
	for _, sup := range active {
		if wErr := sup.WaitState(ctx, StateStopped); wErr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", sup.Name(), wErr))
		}
	}
	return err
}

// Close releases the hub. Clients should be stopped first with Shutdown.
func (m *Manager) Close() {
	m.hub.Close()
}
