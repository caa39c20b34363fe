package connector

import "errors"

// Sentinel errors shared by all connector implementations. Connectors wrap
// backend failures but return these unwrapped (or wrapped with %w) for the
// conditions the virtual store matches on.
var (
	// ErrUserNotFound is returned when no user partition matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrGroupNotFound is returned when no group partition matches.
	ErrGroupNotFound = errors.New("group not found")

	// ErrCredentialNotFound is returned when no credential partition exists
	// under the requested ID.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrAuthenticationFailure is returned by Authenticate on any mismatch:
	// wrong secret, unknown partition, unhandled credential type.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrUnsupportedCredentialType is returned when a connector is asked to
	// store a credential type it cannot persist.
	ErrUnsupportedCredentialType = errors.New("unsupported credential type")
)
