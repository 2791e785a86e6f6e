// Package common provides shared constants, types, and utilities
// used across the OpenVPN Manager application.
package common

import "errors"

// Sentinel errors for supervision.
// These can be checked with errors.Is() for proper error handling.
var (
	// Lifecycle errors.
	ErrAlreadyRunning = errors.New("connection is not stopped")
	ErrNotRunning     = errors.New("connection is not initializing or running")
	ErrSpawnFailure   = errors.New("failed to start vpn client")
	ErrUnexpectedExit = errors.New("vpn client exited unexpectedly")
	ErrTimeout        = errors.New("operation timed out")

	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidConfig   = errors.New("invalid configuration file")
	ErrDuplicateName   = errors.New("profile name already exists")
	ErrInvalidProfile  = errors.New("invalid profile data")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
