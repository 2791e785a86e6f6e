// Package vpn provides VPN connection management functionality.
// This file contains the HealthChecker for monitoring connection health
// and implementing auto-reconnect functionality.
package vpn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/yllada/ovpn-manager/common"
)

// HealthState represents the current health state of a connection.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often to check connection health.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// AutoReconnect enables automatic reconnection on failure.
	AutoReconnect bool
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int
	// TestHosts are the host:port pairs dialed for health checks.
	TestHosts []string
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:        30 * time.Second,
		FailureThreshold:     3,
		AutoReconnect:        true,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: 5,
		TestHosts: []string{
			"8.8.8.8:53",        // Google DNS
			"1.1.1.1:53",        // Cloudflare DNS
			"208.67.222.222:53", // OpenDNS
		},
	}
}

// ConnectionHealth tracks the health of a specific connection.
type ConnectionHealth struct {
	ProfileID         string
	State             HealthState
	LastCheck         time.Time
	LastSuccess       time.Time
	ConsecutiveFails  int
	ReconnectAttempts int
	Latency           time.Duration
}

// reconnecter is the part of Manager the health checker drives.
type reconnecter interface {
	Active() []*Supervisor
	Reconnect(ctx context.Context, profileID string) error
	Hub() *Hub
}

// HealthChecker monitors the health of RUNNING connections. Health
// changes and reconnect attempts are published on the hub as
// supervisor diagnostics.
type HealthChecker struct {
	mu               sync.RWMutex
	config           HealthConfig
	manager          reconnecter
	running          bool
	stopChan         chan struct{}
	sub              *Subscription
	connectionHealth map[string]*ConnectionHealth
	// reconnecting marks profiles this checker is restarting. Their
	// clean stop keeps the attempt counter.
	reconnecting map[string]bool

	// dial connects to one test host. Replaced in tests.
	dial func(host string, timeout time.Duration) error
}

// NewHealthChecker creates a new health checker for the given manager.
func NewHealthChecker(manager *Manager, config HealthConfig) *HealthChecker {
	return newHealthChecker(manager, config)
}

func newHealthChecker(manager reconnecter, config HealthConfig) *HealthChecker {
	return &HealthChecker{
		config:           config,
		manager:          manager,
		stopChan:         make(chan struct{}),
		connectionHealth: make(map[string]*ConnectionHealth),
		reconnecting:     make(map[string]bool),
		dial:             dialHost,
	}
}

func dialHost(host string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Start begins the health checking loop.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.stopChan = make(chan struct{})
	if hc.manager != nil {
		hc.sub = hc.manager.Hub().Subscribe(ObserverFuncs{State: hc.onStateChanged})
	}
	hc.mu.Unlock()

	common.LogInfo("Health checker started (interval: %v)", hc.config.CheckInterval)

	go hc.runLoop()
}

// Stop stops the health checking loop.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	close(hc.stopChan)
	sub := hc.sub
	hc.sub = nil
	hc.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	common.LogInfo("Health checker stopped")
}

// IsRunning returns whether the health checker is currently running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.running
}

// GetHealth returns the current health state for a connection.
func (hc *HealthChecker) GetHealth(profileID string) (*ConnectionHealth, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	health, exists := hc.connectionHealth[profileID]
	if !exists {
		return nil, false
	}
	healthCopy := *health
	return &healthCopy, true
}

// onStateChanged forgets the health of stopped connections. A crash or a
// stop caused by our own reconnect keeps the attempt counter, which only
// a successful check resets.
func (hc *HealthChecker) onStateChanged(e StateEvent) {
	if e.To != StateStopped {
		return
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.reconnecting[e.ProfileID] {
		delete(hc.reconnecting, e.ProfileID)
		if health, ok := hc.connectionHealth[e.ProfileID]; ok {
			health.State = HealthUnknown
			health.ConsecutiveFails = 0
		}
		return
	}
	if !e.Crashed {
		delete(hc.connectionHealth, e.ProfileID)
	}
}

// runLoop is the main health checking loop.
func (hc *HealthChecker) runLoop() {
	hc.mu.RLock()
	interval := hc.config.CheckInterval
	stop := hc.stopChan
	hc.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hc.checkAllConnections()
		}
	}
}

// checkAllConnections checks the health of all RUNNING connections.
func (hc *HealthChecker) checkAllConnections() {
	if hc.manager == nil {
		return
	}
	for _, sup := range hc.manager.Active() {
		if sup.State() == StateRunning {
			hc.checkConnection(sup)
		}
	}
}

// checkConnection performs a health check on a single connection.
func (hc *HealthChecker) checkConnection(sup *Supervisor) {
	profileID := sup.ProfileID()

	hc.mu.Lock()
	health, exists := hc.connectionHealth[profileID]
	if !exists {
		health = &ConnectionHealth{
			ProfileID: profileID,
			State:     HealthUnknown,
		}
		hc.connectionHealth[profileID] = health
	}
	hc.mu.Unlock()

	latency, err := hc.testConnectivity()

	hc.mu.Lock()
	health.LastCheck = time.Now()
	oldState := health.State

	if err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		common.LogWarn("Health check failed for %s (attempt %d/%d): %v",
			sup.Name(), health.ConsecutiveFails, hc.config.FailureThreshold, err)

		if health.ConsecutiveFails >= hc.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = time.Now()
		health.Latency = latency
		health.State = HealthHealthy
		health.ReconnectAttempts = 0
	}
	newState := health.State
	reconnect := newState == HealthUnhealthy && hc.config.AutoReconnect
	hc.mu.Unlock()

	if oldState != newState {
		hc.publish(profileID, fmt.Sprintf("health of %s changed: %s -> %s", sup.Name(), oldState, newState))
		if reconnect {
			go hc.attemptReconnect(sup)
		}
	}
}

// testConnectivity tests network connectivity through the VPN tunnel.
// Returns latency and error.
func (hc *HealthChecker) testConnectivity() (time.Duration, error) {
	hc.mu.RLock()
	hosts := hc.config.TestHosts
	dial := hc.dial
	hc.mu.RUnlock()

	var lastErr error = fmt.Errorf("no test hosts configured")
	for _, host := range hosts {
		start := time.Now()
		if err := dial(host, common.ManagementTimeout); err != nil {
			lastErr = err
			continue
		}
		return time.Since(start), nil
	}
	return 0, lastErr
}

// attemptReconnect restarts an unhealthy connection through the manager.
func (hc *HealthChecker) attemptReconnect(sup *Supervisor) {
	profileID := sup.ProfileID()

	hc.mu.Lock()
	health, ok := hc.connectionHealth[profileID]
	if !ok {
		hc.mu.Unlock()
		return
	}
	if hc.config.MaxReconnectAttempts > 0 && health.ReconnectAttempts >= hc.config.MaxReconnectAttempts {
		hc.mu.Unlock()
		hc.publish(profileID, fmt.Sprintf("giving up on %s after %d reconnect attempts", sup.Name(), health.ReconnectAttempts))
		return
	}
	health.ReconnectAttempts++
	attempt := health.ReconnectAttempts
	delay := hc.config.ReconnectDelay
	stop := hc.stopChan
	hc.mu.Unlock()

	hc.publish(profileID, fmt.Sprintf("reconnecting %s (attempt %d)", sup.Name(), attempt))

	select {
	case <-stop:
		return
	case <-time.After(delay):
	}

	// A manual disconnect in the meantime cancels the reconnect.
	if sup.State() != StateRunning {
		common.LogInfo("Connection was disconnected, skipping reconnect for %s", sup.Name())
		return
	}

	hc.mu.Lock()
	hc.reconnecting[profileID] = true
	hc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), common.StopTimeout+common.ConnectionTimeout)
	defer cancel()
	if err := hc.manager.Reconnect(ctx, profileID); err != nil {
		hc.mu.Lock()
		delete(hc.reconnecting, profileID)
		hc.mu.Unlock()
		hc.publish(profileID, fmt.Sprintf("reconnect of %s failed: %v", sup.Name(), err))
		return
	}
	common.LogInfo("Reconnect started for %s", sup.Name())
}

// publish reports a health diagnostic on the hub and in the log.
func (hc *HealthChecker) publish(profileID, msg string) {
	common.LogInfo("%s", msg)
	if hc.manager == nil {
		return
	}
	hc.manager.Hub().PublishLog(NewLogEvent(profileID, Classify(ChannelSupervisor, msg), msg))
}

// RemoveConnection removes health tracking for a disconnected connection.
func (hc *HealthChecker) RemoveConnection(profileID string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.connectionHealth, profileID)
}

// UpdateConfig updates the health checker configuration.
func (hc *HealthChecker) UpdateConfig(config HealthConfig) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.config = config
}
