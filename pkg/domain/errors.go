package domain

import "errors"

var (
	// ErrNoDomains is returned by PrimaryDomain on an empty registry.
	ErrNoDomains = errors.New("no domains registered")

	// ErrDomainNotFound is returned when no domain has the requested name.
	ErrDomainNotFound = errors.New("domain not found")

	// ErrDuplicateDomain is returned when two domains share a name.
	ErrDuplicateDomain = errors.New("domain name already registered")

	// ErrClaimMappingNotFound is returned when a domain does not map a
	// claim URI.
	ErrClaimMappingNotFound = errors.New("claim mapping not found")

	// ErrConnectorNotFound is returned when a domain has no connector with
	// the requested ID.
	ErrConnectorNotFound = errors.New("connector not found")
)
