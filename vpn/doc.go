// Package vpn provides VPN connection management functionality for OpenVPN Manager.
//
// This package implements the supervision core:
//
//   - Supervisor: launches one openvpn client, reads its stdout, stderr and
//     management interface, and drives its ConnectionState
//   - Hub: fans StateEvents and LogEvents out to observers, each on its own
//     goroutine with an unbounded FIFO mailbox
//   - LogBuffer: the bounded ring of recent events a front end keeps
//   - Manager: one Supervisor per profile sharing a single Hub
//   - ProfileManager: persistence of VPN profiles
//   - HealthChecker: reachability checks and auto-reconnect
//
// # Connection States
//
//	STOPPED --connect--> INITIALIZING --established--> RUNNING
//	INITIALIZING, RUNNING --disconnect--> STOPPING --exit--> STOPPED
//	INITIALIZING, RUNNING --exit--> STOPPED (crashed)
//
// The tunnel counts as established when the management interface reports
// ">STATE:...,CONNECTED". A profile launched without a management
// interface uses the "Initialization Sequence Completed" stdout line.
//
// # Connection Flow
//
//  1. A front end subscribes an Observer with Manager.Subscribe
//  2. It calls Manager.Connect with the profile and optional password
//  3. The Supervisor starts openvpn with --management-hold and releases
//     the hold once connected to the management port
//  4. Output lines and state changes reach every observer in publish order
//  5. Manager.Disconnect sends SIGTERM (or "signal SIGTERM" over the
//     management interface) and the client is killed after StopTimeout
//
// # Thread Safety
//
// Supervisor, Hub, Manager, ProfileManager and HealthChecker are safe for
// concurrent use. LogBuffer is owned by a single consumer.
package vpn
