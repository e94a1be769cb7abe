// Package mailerr defines the error taxonomy shared by the protocol
// handlers. Callers branch on these categories to decide retry policy:
// connection errors may be retried with a fresh connect, authentication
// and validation errors never are, protocol errors are per-command and do
// not invalidate the connection.
package mailerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection marks network-level failures reaching the server
	// (dial, DNS, timeout, reset).
	ErrConnection = errors.New("connection error")

	// ErrAuthentication marks rejected credentials.
	ErrAuthentication = errors.New("authentication error")

	// ErrProtocol marks a server rejection of a specific command, e.g. a
	// missing folder.
	ErrProtocol = errors.New("protocol error")

	// ErrValidation marks a malformed outbound message, caught before any
	// I/O.
	ErrValidation = errors.New("validation error")

	// ErrUIDValidityChanged is returned when a folder's UIDVALIDITY no
	// longer matches the caller's recorded value; every stored uid for
	// the folder is void and a full resync is required.
	ErrUIDValidityChanged = errors.New("uidvalidity changed")

	// ErrNotConnected is returned when an operation is issued on a
	// handler that has no live session.
	ErrNotConnected = errors.New("not connected")

	// ErrPoolExhausted is returned when a fixed-size handler pool has no
	// free entry.
	ErrPoolExhausted = errors.New("pool exhausted")
)

// Connection wraps err as a connection error.
func Connection(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConnection, fmt.Sprintf(format, args...))
}

// Authentication wraps err as an authentication error.
func Authentication(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthentication, fmt.Sprintf(format, args...))
}

// Protocol wraps err as a protocol/command error.
func Protocol(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Validation wraps err as a validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsConnection reports whether err is a connection error.
func IsConnection(err error) bool { return errors.Is(err, ErrConnection) }

// IsAuthentication reports whether err is an authentication error.
func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUIDValidityChanged reports whether err signals a UIDVALIDITY mismatch.
func IsUIDValidityChanged(err error) bool { return errors.Is(err, ErrUIDValidityChanged) }
