// Package vpn provides VPN connection management functionality.
// This file contains the connection state machine.
package vpn

import (
	"fmt"
	"time"
)

// ConnectionState represents the lifecycle state of a supervised client.
type ConnectionState int

const (
	// StateStopped indicates no client process.
	StateStopped ConnectionState = iota
	// StateInitializing indicates the client runs but the tunnel is not up yet.
	StateInitializing
	// StateRunning indicates an established tunnel.
	StateRunning
	// StateStopping indicates termination was requested and exit is pending.
	StateStopping
)

// String returns a human-readable representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Label returns the wording front ends show for the state.
func (s ConnectionState) Label() string {
	switch s {
	case StateStopped:
		return "Disconnected"
	case StateInitializing:
		return "Connecting..."
	case StateRunning:
		return "Connected"
	case StateStopping:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// Active reports whether a client process exists in this state.
func (s ConnectionState) Active() bool {
	return s != StateStopped
}

// Trigger is the cause of a state transition.
type Trigger int

const (
	// TriggerConnect is a connect request starting a client.
	TriggerConnect Trigger = iota
	// TriggerEstablished is the client reporting an established tunnel.
	TriggerEstablished
	// TriggerDisconnect is a disconnect request.
	TriggerDisconnect
	// TriggerExit is the client process exiting.
	TriggerExit
)

// String returns the trigger name.
func (t Trigger) String() string {
	switch t {
	case TriggerConnect:
		return "connect"
	case TriggerEstablished:
		return "established"
	case TriggerDisconnect:
		return "disconnect"
	case TriggerExit:
		return "exit"
	default:
		return "unknown"
	}
}

// StateEvent is published after every committed transition.
type StateEvent struct {
	ProfileID string
	From      ConnectionState
	To        ConnectionState
	Trigger   Trigger
	// Crashed is set when the client exited outside the stopping path.
	Crashed bool
	Time    time.Time
}

// ValidTransition reports whether from -> to is an edge of the state machine.
func ValidTransition(from, to ConnectionState) bool {
	switch from {
	case StateStopped:
		return to == StateInitializing
	case StateInitializing:
		return to == StateRunning || to == StateStopping || to == StateStopped
	case StateRunning:
		return to == StateStopping || to == StateStopped
	case StateStopping:
		return to == StateStopped
	default:
		return false
	}
}

// errIgnored marks triggers that do not apply in the current state and
// are dropped without a transition.
var errIgnored = fmt.Errorf("trigger ignored")

// stateMachine holds the authoritative state of one supervisor.
// It is not synchronized; the owning Supervisor serializes access.
type stateMachine struct {
	profileID string
	state     ConnectionState
	since     time.Time
}

func newStateMachine(profileID string) *stateMachine {
	return &stateMachine{
		profileID: profileID,
		state:     StateStopped,
		since:     time.Now(),
	}
}

// fire applies a trigger. On success the new state is committed and the
// event describing the transition is returned.
func (m *stateMachine) fire(t Trigger) (StateEvent, error) {
	from := m.state
	to := from
	crashed := false

	switch t {
	case TriggerConnect:
		if from != StateStopped {
			return StateEvent{}, ErrAlreadyRunning
		}
		to = StateInitializing
	case TriggerEstablished:
		if from != StateInitializing {
			return StateEvent{}, errIgnored
		}
		to = StateRunning
	case TriggerDisconnect:
		if from != StateInitializing && from != StateRunning {
			return StateEvent{}, ErrNotRunning
		}
		to = StateStopping
	case TriggerExit:
		if from == StateStopped {
			return StateEvent{}, errIgnored
		}
		to = StateStopped
		crashed = from != StateStopping
	default:
		return StateEvent{}, fmt.Errorf("unknown trigger %d", t)
	}

	m.state = to
	m.since = time.Now()

	return StateEvent{
		ProfileID: m.profileID,
		From:      from,
		To:        to,
		Trigger:   t,
		Crashed:   crashed,
		Time:      m.since,
	}, nil
}
