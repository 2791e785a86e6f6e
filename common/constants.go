// Package common provides shared constants, types, and utilities
// used across the OpenVPN Manager application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.ovpnmanager.app"
	// AppName is the display name of the application.
	AppName = "OpenVPN Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "ovpn-manager"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "ovpn-manager.log"
	HistoryFileName     = "history.db"
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time the CLI waits for a tunnel.
	ConnectionTimeout = 30 * time.Second
	// StopTimeout is how long a stopping client may take before it is killed.
	StopTimeout = 10 * time.Second
	// ManagementDialInterval is the pause between management connect attempts.
	ManagementDialInterval = 250 * time.Millisecond
	// ManagementTimeout bounds a single management dial.
	ManagementTimeout = 5 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
)

// Supervision defaults.
const (
	// DefaultOpenVPNBinary is looked up in PATH when no binary is configured.
	DefaultOpenVPNBinary = "openvpn"
	// DefaultManagementHost is where the management interface listens.
	DefaultManagementHost = "127.0.0.1"
	// LogBufferCapacity is the number of log events a front end keeps.
	LogBufferCapacity = 2048
	// MaxLineLength caps a single line read from the client.
	MaxLineLength = 1024 * 1024
)
