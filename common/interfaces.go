// Package common provides shared constants, types, and utilities
// used across the OpenVPN Manager application.
package common

// CredentialStore defines the interface for credential storage.
// Implementations may use system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves the password for a profile.
	Store(profileID, password string) error
	// Get retrieves the password for a profile.
	Get(profileID string) (string, error)
	// Delete removes the password for a profile.
	Delete(profileID string) error
	// Clear removes all stored credentials.
	Clear() error
}

// Urgency mirrors the freedesktop notification urgency levels.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// Notifier defines the interface for sending desktop notifications.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message, icon string, urgency Urgency) error
}

// Logger defines the interface for levelled logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
