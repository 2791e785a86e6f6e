// Package common provides shared constants, types, utilities, and interfaces
// used throughout OpenVPN Manager.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts, file names and buffer sizes
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for credential storage, notifications, and logging
//   - Logger: Levelled logging to stderr and a rotated log file
//   - Utils: Config directories, identifiers and port reservation
//
// # Usage
//
//	// Use constants
//	timeout := common.StopTimeout
//
//	// Use logger
//	common.LogInfo("Starting connection to %s", profileName)
//	log := common.GetLogger().WithComponent("supervisor")
//
//	// Check errors
//	if errors.Is(err, common.ErrAlreadyRunning) {
//	    // Connection is busy
//	}
package common
