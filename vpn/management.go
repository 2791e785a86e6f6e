// Package vpn provides VPN connection management functionality.
// This file contains the client side of the OpenVPN management interface.
package vpn

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/yllada/ovpn-manager/common"
)

// Management interface commands.
const (
	cmdStateOn     = "state on"
	cmdHoldRelease = "hold release"
	cmdSigterm     = "signal SIGTERM"
)

// initSequenceCompleted is printed on stdout once the tunnel is up.
const initSequenceCompleted = "Initialization Sequence Completed"

// ManagementDialer opens a connection to a client's management interface.
type ManagementDialer interface {
	// Dial keeps trying to connect to addr until it succeeds or ctx is done.
	Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error)
}

// TCPManagementDialer dials the management interface over TCP.
// The client opens the port some time after it starts, so Dial retries.
type TCPManagementDialer struct {
	// Interval is the pause between attempts.
	Interval time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// NewTCPManagementDialer returns a dialer with the default timings.
func NewTCPManagementDialer() *TCPManagementDialer {
	return &TCPManagementDialer{
		Interval: common.ManagementDialInterval,
		Timeout:  common.ManagementTimeout,
	}
}

// Dial implements ManagementDialer.
func (d *TCPManagementDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	attempts := 0
	for {
		attempts++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("management interface %s not reachable after %d attempts: %w", addr, attempts, err)
		case <-time.After(d.Interval):
		}
	}
}

// ManagementArgs returns the client arguments that expose the management
// interface on host:port and hold the client until it is released.
func ManagementArgs(host string, port int) []string {
	return []string{
		"--management", host, fmt.Sprintf("%d", port),
		"--management-hold",
	}
}

// writeCommand sends one management command.
func writeCommand(w io.Writer, cmd string) error {
	_, err := io.WriteString(w, cmd+"\n")
	return err
}

// parseStateLine extracts the state name of a real-time state
// notification such as ">STATE:1700000000,CONNECTED,SUCCESS,10.8.0.2,...".
func parseStateLine(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), ">STATE:")
	if !ok {
		return "", false
	}
	fields := strings.Split(rest, ",")
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}

// isTunnelEstablished reports whether a management line announces the
// tunnel is up.
func isTunnelEstablished(line string) bool {
	state, ok := parseStateLine(line)
	return ok && state == "CONNECTED"
}

// isAuthFailure reports whether a line from any channel signals rejected
// credentials.
func isAuthFailure(line string) bool {
	return strings.Contains(line, "AUTH_FAILED")
}
