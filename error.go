package rop

import "fmt"

type ErrorCode int

const (
	Unknown = iota
	// LockAcquisitionFailure signals the transaction registry or a cache lock could not be acquired.
	LockAcquisitionFailure
	// DeadlockDetected maps the server's serialization/deadlock fault. Callers are advised
	// to reopen and retry the whole transaction; ShouldRetry returns true for it.
	DeadlockDetected
	// ValidationFailure covers both server-side validation faults and local CEL rule violations.
	ValidationFailure
	// AccessDenied maps the server's access/permission faults.
	AccessDenied
	// TransportFailure covers connection, protocol and unclassified server faults.
	TransportFailure
	// SessionExpired signals the pooled session's authentication is no longer valid.
	SessionExpired
)

// ROP custom error. UserData carries error-specific payload, e.g. the model and record
// IDs of the failing call for fault codes coming from the remote server.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap exposes the wrapped cause so errors.Is/As can see through the coded envelope.
func (e Error) Unwrap() error {
	return e.Err
}
