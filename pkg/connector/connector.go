// Package connector defines the contracts the virtual store consumes from
// backing stores: identity-store connectors hold attribute partitions,
// credential-store connectors hold and verify credential partitions.
//
// The virtual store owns none of a connector's resources. Connectors manage
// their own pools and handles; callers construct them fully before handing
// them to a domain and tear them down after the store is gone.
package connector

import (
	"context"

	"github.com/fedid/fedid/pkg/claim"
)

// IdentityStoreConnector is a driver over a single backing store (LDAP shard,
// SQL table, in-memory map) holding attribute partitions of users and groups.
//
// Thread Safety: implementations must be safe for concurrent use; the virtual
// store performs no locking on their behalf.
type IdentityStoreConnector interface {
	// ID returns the connector's unique ID within its domain.
	ID() string

	// AddUser stores a new attribute partition and returns its
	// connector-local ID.
	AddUser(ctx context.Context, attrs []claim.Attribute) (string, error)

	// AddUsers stores attribute partitions in bulk. Keys are opaque
	// correlation tokens; the returned map carries the connector-local ID
	// for every key that succeeded. A missing key means that partition
	// failed. Implementations may also fail the whole batch.
	AddUsers(ctx context.Context, attrs map[string][]claim.Attribute) (map[string]string, error)

	// UpdateUserAttributes replaces the partition's attributes and returns
	// the (possibly rekeyed) connector-local ID.
	UpdateUserAttributes(ctx context.Context, userID string, attrs []claim.Attribute) (string, error)

	// GetConnectorUserID returns the connector-local ID of the user whose
	// attribute equals the given value.
	// Returns ErrUserNotFound if no user matches.
	GetConnectorUserID(ctx context.Context, attributeName, attributeValue string) (string, error)

	// ListConnectorUserIDs returns connector-local IDs of users whose
	// attribute equals the given value, honoring offset and length.
	ListConnectorUserIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error)

	// ListConnectorUserIDsByPattern is ListConnectorUserIDs with a pattern
	// filter instead of equality. Pattern syntax is connector-defined.
	ListConnectorUserIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error)

	// GetUserAttributeValues returns the partition's attributes. When
	// attributeNames is non-empty only those attributes are returned.
	// Returns ErrUserNotFound if the partition doesn't exist.
	GetUserAttributeValues(ctx context.Context, userID string, attributeNames ...string) ([]claim.Attribute, error)

	// RemoveAddedUsersInAFailure deletes partitions written by a partially
	// failed operation. It is compensation: idempotent, and it must only
	// return an error when genuinely unable to clean up. The caller logs
	// such errors and continues.
	RemoveAddedUsersInAFailure(ctx context.Context, userIDs []string) error

	// DeleteUser removes the partition.
	// Returns ErrUserNotFound if the partition doesn't exist.
	DeleteUser(ctx context.Context, userID string) error

	// Group counterparts.

	// AddGroup stores a new group partition and returns its connector-local ID.
	AddGroup(ctx context.Context, attrs []claim.Attribute) (string, error)

	// AddGroups stores group partitions in bulk with the same key
	// semantics as AddUsers.
	AddGroups(ctx context.Context, attrs map[string][]claim.Attribute) (map[string]string, error)

	// UpdateGroupAttributes replaces the group partition's attributes and
	// returns the (possibly rekeyed) connector-local ID.
	UpdateGroupAttributes(ctx context.Context, groupID string, attrs []claim.Attribute) (string, error)

	// GetConnectorGroupID returns the connector-local ID of the group whose
	// attribute equals the given value.
	// Returns ErrGroupNotFound if no group matches.
	GetConnectorGroupID(ctx context.Context, attributeName, attributeValue string) (string, error)

	// ListConnectorGroupIDs returns connector-local IDs of groups whose
	// attribute equals the given value, honoring offset and length.
	ListConnectorGroupIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error)

	// ListConnectorGroupIDsByPattern is ListConnectorGroupIDs with a
	// connector-defined pattern filter.
	ListConnectorGroupIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error)

	// GetGroupAttributeValues returns the group partition's attributes,
	// optionally restricted to attributeNames.
	// Returns ErrGroupNotFound if the partition doesn't exist.
	GetGroupAttributeValues(ctx context.Context, groupID string, attributeNames ...string) ([]claim.Attribute, error)

	// RemoveAddedGroupsInAFailure is the group counterpart of
	// RemoveAddedUsersInAFailure.
	RemoveAddedGroupsInAFailure(ctx context.Context, groupIDs []string) error

	// DeleteGroup removes the group partition.
	// Returns ErrGroupNotFound if the partition doesn't exist.
	DeleteGroup(ctx context.Context, groupID string) error
}

// CredentialStoreConnector persists and verifies credential partitions in one
// backend (credential vault, password table).
//
// Thread Safety: implementations must be safe for concurrent use.
type CredentialStoreConnector interface {
	// ID returns the connector's unique ID within its domain.
	ID() string

	// CanStore reports whether the connector can persist the credential.
	// Cheap and side-effect free.
	CanStore(cred Credential) bool

	// CanHandle reports whether the connector can verify the bundle.
	// Cheap and side-effect free.
	CanHandle(bundle Bundle) bool

	// AddCredential persists the credentials as one partition and returns
	// its connector-local ID.
	AddCredential(ctx context.Context, creds []Credential) (string, error)

	// UpdateCredentials replaces the partition's credentials and returns
	// the (possibly rekeyed) connector-local ID.
	UpdateCredentials(ctx context.Context, credentialID string, creds []Credential) (string, error)

	// Authenticate verifies the bundle against the stored partition.
	// Returns ErrAuthenticationFailure on mismatch; success returns nil.
	Authenticate(ctx context.Context, bundle Bundle) error

	// DeleteCredential removes the partition. Idempotent.
	DeleteCredential(ctx context.Context, credentialID string) error
}
