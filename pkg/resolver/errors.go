package resolver

import "errors"

var (
	// ErrUserNotFound is returned when no linkage exists for a user ID.
	ErrUserNotFound = errors.New("user linkage not found")

	// ErrGroupNotFound is returned when no linkage exists for a group ID.
	ErrGroupNotFound = errors.New("group linkage not found")

	// ErrDuplicateUser is returned when a linkage already exists for the
	// logical user ID being added.
	ErrDuplicateUser = errors.New("user linkage already exists")

	// ErrDuplicateGroup is returned when a linkage already exists for the
	// logical group ID being added.
	ErrDuplicateGroup = errors.New("group linkage already exists")
)
