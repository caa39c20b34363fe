// Package resolver defines the unique-id resolver contract: the
// authoritative mapping between a logical user/group ID and the set of
// per-connector partitions it is assembled from.
//
// Every write path in the virtual store commits to the resolver last, so a
// crash mid-operation leaves orphan connector partitions (cleaned by
// compensation) rather than a logical ID pointing at nothing.
package resolver

import "context"

// UserPartition names the slice of a user held by one connector.
type UserPartition struct {
	// ConnectorID identifies the connector within the user's domain.
	ConnectorID string `json:"connector_id" yaml:"connector_id"`

	// ConnectorLocalID is the ID the partition is stored under inside the
	// connector.
	ConnectorLocalID string `json:"connector_local_id" yaml:"connector_local_id"`

	// IsIdentityStore is true for attribute partitions in identity
	// connectors, false for credential partitions in credential connectors.
	IsIdentityStore bool `json:"is_identity_store" yaml:"is_identity_store"`
}

// UniqueUser links a logical user ID to its partitions. Partition order is
// preserved as written.
type UniqueUser struct {
	ID         string          `json:"id" yaml:"id"`
	Partitions []UserPartition `json:"partitions" yaml:"partitions"`
}

// IdentityPartitions returns the attribute partitions as a connector-ID to
// connector-local-ID map.
func (u UniqueUser) IdentityPartitions() map[string]string {
	m := make(map[string]string)
	for _, p := range u.Partitions {
		if p.IsIdentityStore {
			m[p.ConnectorID] = p.ConnectorLocalID
		}
	}
	return m
}

// CredentialPartitions returns the credential partitions in stored order.
func (u UniqueUser) CredentialPartitions() []UserPartition {
	var out []UserPartition
	for _, p := range u.Partitions {
		if !p.IsIdentityStore {
			out = append(out, p)
		}
	}
	return out
}

// GroupPartition names the slice of a group held by one identity connector.
// Groups carry no credential partitions.
type GroupPartition struct {
	ConnectorID      string `json:"connector_id" yaml:"connector_id"`
	ConnectorLocalID string `json:"connector_local_id" yaml:"connector_local_id"`
}

// UniqueGroup links a logical group ID to its partitions.
type UniqueGroup struct {
	ID         string           `json:"id" yaml:"id"`
	Partitions []GroupPartition `json:"partitions" yaml:"partitions"`
}

// PartitionMap returns the group's partitions as a connector-ID to
// connector-local-ID map.
func (g UniqueGroup) PartitionMap() map[string]string {
	m := make(map[string]string, len(g.Partitions))
	for _, p := range g.Partitions {
		m[p.ConnectorID] = p.ConnectorLocalID
	}
	return m
}

// UniqueIDResolver maintains the logical-ID to partition linkage and the
// user-group membership edges for one domain.
//
// Thread Safety: implementations must be safe for concurrent use and must
// tolerate racing writers; the virtual store performs no locking around them.
type UniqueIDResolver interface {
	// IsUserExists reports whether a linkage exists for the logical user ID.
	IsUserExists(ctx context.Context, userID string) (bool, error)

	// IsGroupExists reports whether a linkage exists for the logical group ID.
	IsGroupExists(ctx context.Context, groupID string) (bool, error)

	// GetUniqueUser returns the user's linkage.
	// Returns ErrUserNotFound if the ID is unknown.
	GetUniqueUser(ctx context.Context, userID string) (UniqueUser, error)

	// GetUniqueUserFromConnectorUserID returns the user owning the given
	// connector partition.
	// Returns ErrUserNotFound if no linkage references the partition.
	GetUniqueUserFromConnectorUserID(ctx context.Context, connectorUserID, connectorID string) (UniqueUser, error)

	// GetUniqueUsers resolves a batch of connector partitions. Result order
	// matches input order; partitions with no linkage are skipped.
	GetUniqueUsers(ctx context.Context, connectorUserIDs []string, connectorID string) ([]UniqueUser, error)

	// ListUsers returns linkages honoring offset and length, in a stable
	// backend-defined order.
	ListUsers(ctx context.Context, offset, length int) ([]UniqueUser, error)

	// GetUniqueGroup returns the group's linkage.
	// Returns ErrGroupNotFound if the ID is unknown.
	GetUniqueGroup(ctx context.Context, groupID string) (UniqueGroup, error)

	// GetUniqueGroupFromConnectorGroupID returns the group owning the given
	// connector partition.
	// Returns ErrGroupNotFound if no linkage references the partition.
	GetUniqueGroupFromConnectorGroupID(ctx context.Context, connectorGroupID, connectorID string) (UniqueGroup, error)

	// GetUniqueGroups resolves a batch of connector group partitions with
	// the same order/skip semantics as GetUniqueUsers.
	GetUniqueGroups(ctx context.Context, connectorGroupIDs []string, connectorID string) ([]UniqueGroup, error)

	// ListGroups returns group linkages honoring offset and length.
	ListGroups(ctx context.Context, offset, length int) ([]UniqueGroup, error)

	// GetGroupsOfUser returns the groups the user is a member of.
	GetGroupsOfUser(ctx context.Context, userID string) ([]UniqueGroup, error)

	// GetUsersOfGroup returns the group's members.
	GetUsersOfGroup(ctx context.Context, groupID string) ([]UniqueUser, error)

	// IsUserInGroup reports membership.
	IsUserInGroup(ctx context.Context, userID, groupID string) (bool, error)

	// AddUser records a new linkage.
	// Returns ErrDuplicateUser if the logical ID is already linked.
	AddUser(ctx context.Context, user UniqueUser, domainName string) error

	// AddUsers records linkages in bulk. All-or-nothing where the backend
	// supports it.
	AddUsers(ctx context.Context, users []UniqueUser, domainName string) error

	// UpdateUser replaces the user's identity-store partitions with the
	// given connector-ID to connector-local-ID map. Credential partitions
	// are left untouched.
	// Returns ErrUserNotFound if the ID is unknown.
	UpdateUser(ctx context.Context, userID string, connectorUserIDs map[string]string) error

	// DeleteUser removes the linkage and the user's membership edges.
	// Returns ErrUserNotFound if the ID is unknown.
	DeleteUser(ctx context.Context, userID string) error

	// AddGroup records a new group linkage.
	// Returns ErrDuplicateGroup if the logical ID is already linked.
	AddGroup(ctx context.Context, group UniqueGroup, domainName string) error

	// AddGroups records group linkages in bulk.
	AddGroups(ctx context.Context, groups []UniqueGroup, domainName string) error

	// UpdateGroup replaces the group's partitions.
	// Returns ErrGroupNotFound if the ID is unknown.
	UpdateGroup(ctx context.Context, groupID string, connectorGroupIDs map[string]string) error

	// DeleteGroup removes the group linkage and its membership edges.
	// Returns ErrGroupNotFound if the ID is unknown.
	DeleteGroup(ctx context.Context, groupID string) error

	// UpdateGroupsOfUser replaces the user's membership edges.
	// Returns ErrUserNotFound if the user ID is unknown.
	UpdateGroupsOfUser(ctx context.Context, userID string, groupIDs []string) error

	// UpdateUsersOfGroup replaces the group's membership edges.
	// Returns ErrGroupNotFound if the group ID is unknown.
	UpdateUsersOfGroup(ctx context.Context, groupID string, userIDs []string) error
}
