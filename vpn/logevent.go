// Package vpn provides VPN connection management functionality.
// This file contains the LogEvent model and the classification of
// client output into log categories.
package vpn

import (
	"fmt"
	"time"
)

// LogCategory identifies where a log line came from.
type LogCategory int

const (
	// CategoryManagement is a line read from the management interface.
	CategoryManagement LogCategory = iota
	// CategoryStderr is a line the client wrote to standard error.
	CategoryStderr
	// CategoryStdout is a line the client wrote to standard output.
	CategoryStdout
	// CategoryInternal is a diagnostic produced by the supervisor itself.
	CategoryInternal
)

// String returns the short prefix shown next to a log line.
func (c LogCategory) String() string {
	switch c {
	case CategoryManagement:
		return "MGNMT"
	case CategoryStderr:
		return "STDERR"
	case CategoryStdout:
		return "STDOUT"
	case CategoryInternal:
		return "LOG"
	default:
		return "UNKNOWN"
	}
}

// Channel is a source of lines from a supervised client.
type Channel int

const (
	ChannelStdout Channel = iota
	ChannelStderr
	ChannelManagement
	// ChannelSupervisor carries messages the supervisor emits about the client.
	ChannelSupervisor
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelStdout:
		return "stdout"
	case ChannelStderr:
		return "stderr"
	case ChannelManagement:
		return "management"
	case ChannelSupervisor:
		return "supervisor"
	default:
		return "unknown"
	}
}

// Classify maps a line and the channel it arrived on to a log category.
// The line does not influence the result today; it is part of the
// signature so richer classification stays a local change.
func Classify(ch Channel, line string) LogCategory {
	switch ch {
	case ChannelManagement:
		return CategoryManagement
	case ChannelStderr:
		return CategoryStderr
	case ChannelStdout:
		return CategoryStdout
	default:
		return CategoryInternal
	}
}

// LogEvent is an immutable log record published by a supervisor.
type LogEvent struct {
	category LogCategory
	message  string
	profile  string
	time     time.Time
	crash    bool
}

// NewLogEvent creates a log event for the given profile.
func NewLogEvent(profileID string, category LogCategory, message string) LogEvent {
	return LogEvent{
		category: category,
		message:  message,
		profile:  profileID,
		time:     time.Now(),
	}
}

// NewCrashEvent creates the diagnostic that accompanies an unexpected exit.
func NewCrashEvent(profileID, message string) LogEvent {
	e := NewLogEvent(profileID, CategoryInternal, message)
	e.crash = true
	return e
}

// Category returns the category of the event.
func (e LogEvent) Category() LogCategory { return e.category }

// Message returns the log text.
func (e LogEvent) Message() string { return e.message }

// ProfileID returns the profile whose client produced the event.
func (e LogEvent) ProfileID() string { return e.profile }

// Time returns when the event was created.
func (e LogEvent) Time() time.Time { return e.time }

// IsCrash reports whether the event describes an unexpected client exit.
func (e LogEvent) IsCrash() bool { return e.crash }

// String formats the event the way log views display it.
func (e LogEvent) String() string {
	return fmt.Sprintf("[%s] %s", e.category, e.message)
}
