package store

import (
	"errors"
	"fmt"
)

// Kind tags an Error with the failure class callers match on.
type Kind string

const (
	// KindConfig marks an invalid store configuration at init.
	KindConfig Kind = "config"

	// KindClient marks bad caller input: empty IDs, empty claim values,
	// missing username claim.
	KindClient Kind = "client"

	// KindUserNotFound marks an absent user.
	KindUserNotFound Kind = "user_not_found"

	// KindGroupNotFound marks an absent group.
	KindGroupNotFound Kind = "group_not_found"

	// KindDomain marks a domain configuration problem: unknown claim URI
	// within a domain.
	KindDomain Kind = "domain"

	// KindServer marks a connector or resolver failure surfaced after
	// compensation.
	KindServer Kind = "server"

	// KindAuthentication marks any failure along the authentication path.
	// Internal errors are collapsed into this kind so callers cannot tell
	// whether the claim matched, the user existed or the secret mismatched.
	KindAuthentication Kind = "authentication"
)

// Error is the virtual store's tagged error. Cause, when set, is reachable
// through errors.Unwrap, so sentinel errors from connectors and resolvers
// keep matching with errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Cause }

// IsKind reports whether err is (or wraps) a store Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

func clientError(format string, args ...any) error {
	return &Error{Kind: KindClient, Message: fmt.Sprintf(format, args...)}
}

func configError(message string) error {
	return &Error{Kind: KindConfig, Message: message}
}

func userNotFound(userID string, cause error) error {
	return &Error{Kind: KindUserNotFound, Message: fmt.Sprintf("user %q not found", userID), Cause: cause}
}

func groupNotFound(groupID string, cause error) error {
	return &Error{Kind: KindGroupNotFound, Message: fmt.Sprintf("group %q not found", groupID), Cause: cause}
}

func domainError(message string, cause error) error {
	return &Error{Kind: KindDomain, Message: message, Cause: cause}
}

func serverError(message string, cause error) error {
	return &Error{Kind: KindServer, Message: message, Cause: cause}
}

func authenticationFailure(cause error) error {
	return &Error{Kind: KindAuthentication, Message: "authentication failure", Cause: cause}
}
