package store

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/fedid/fedid/internal/logger"
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/domain"
	"github.com/fedid/fedid/pkg/resolver"
)

// GetUser returns a handle to the user with the given logical ID.
func (s *VirtualStore) GetUser(ctx context.Context, userID, domainName string) (User, error) {
	started := time.Now()
	u, err := s.getUser(ctx, userID, domainName)
	s.observe("getUser", domainName, started, err)
	return u, err
}

func (s *VirtualStore) getUser(ctx context.Context, userID, domainName string) (User, error) {
	if userID == "" {
		return User{}, clientError("user ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return User{}, err
	}

	exists, err := d.Resolver().IsUserExists(ctx, userID)
	if err != nil {
		return User{}, serverError("failed to resolve user", err)
	}
	if !exists {
		return User{}, userNotFound(userID, nil)
	}
	return User{id: userID, domainName: d.Name(), store: s}, nil
}

// GetUserByClaim returns a handle to the user identified by the claim value.
func (s *VirtualStore) GetUserByClaim(ctx context.Context, c claim.Claim, domainName string) (User, error) {
	started := time.Now()
	u, err := s.getUserByClaim(ctx, c, domainName)
	s.observe("getUserByClaim", domainName, started, err)
	return u, err
}

func (s *VirtualStore) getUserByClaim(ctx context.Context, c claim.Claim, domainName string) (User, error) {
	if c.ClaimURI == "" || c.Value == "" {
		return User{}, clientError("claim URI and value are required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return User{}, err
	}

	m, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return User{}, domainError("claim not mapped in domain", err)
	}
	conn, err := d.IdentityConnector(m.ConnectorID)
	if err != nil {
		return User{}, serverError("mapped connector missing", err)
	}

	connectorUserID, err := conn.GetConnectorUserID(ctx, m.AttributeName, c.Value)
	if err != nil {
		if errors.Is(err, connector.ErrUserNotFound) {
			return User{}, userNotFound(c.Value, err)
		}
		return User{}, serverError("connector lookup failed", err)
	}

	uu, err := d.Resolver().GetUniqueUserFromConnectorUserID(ctx, connectorUserID, m.ConnectorID)
	if err != nil || uu.ID == "" {
		// A partition without linkage is a broken invariant, not a
		// missing user.
		return User{}, serverError("user partition has no linkage", err)
	}
	return User{id: uu.ID, domainName: d.Name(), store: s}, nil
}

// ListUsers returns user handles honoring offset and length. A zero length
// returns an empty list without any I/O.
func (s *VirtualStore) ListUsers(ctx context.Context, offset, length int, domainName string) ([]User, error) {
	started := time.Now()
	users, err := s.listUsers(ctx, offset, length, domainName)
	s.observe("listUsers", domainName, started, err)
	return users, err
}

func (s *VirtualStore) listUsers(ctx context.Context, offset, length int, domainName string) ([]User, error) {
	if offset < 0 || length < 0 {
		return nil, clientError("offset and length must be non-negative")
	}
	if length == 0 {
		return []User{}, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	linked, err := d.Resolver().ListUsers(ctx, offset, length)
	if err != nil {
		return nil, serverError("failed to list users", err)
	}
	users := make([]User, 0, len(linked))
	for _, uu := range linked {
		users = append(users, User{id: uu.ID, domainName: d.Name(), store: s})
	}
	return users, nil
}

// ListUsersByClaim returns handles of users whose mapped attribute equals the
// claim value. A zero length returns an empty list without any I/O.
func (s *VirtualStore) ListUsersByClaim(ctx context.Context, c claim.Claim, offset, length int, domainName string) ([]User, error) {
	started := time.Now()
	users, err := s.listUsersByClaim(ctx, c, offset, length, domainName)
	s.observe("listUsersByClaim", domainName, started, err)
	return users, err
}

func (s *VirtualStore) listUsersByClaim(ctx context.Context, c claim.Claim, offset, length int, domainName string) ([]User, error) {
	if c.ClaimURI == "" || c.Value == "" {
		return nil, clientError("claim URI and value are required")
	}
	if offset < 0 || length < 0 {
		return nil, clientError("offset and length must be non-negative")
	}
	if length == 0 {
		return []User{}, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	m, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return nil, domainError("claim not mapped in domain", err)
	}
	conn, err := d.IdentityConnector(m.ConnectorID)
	if err != nil {
		return nil, serverError("mapped connector missing", err)
	}

	ids, err := conn.ListConnectorUserIDs(ctx, m.AttributeName, c.Value, offset, length)
	if err != nil {
		return nil, serverError("connector listing failed", err)
	}
	return s.usersFromConnectorIDs(ctx, d, ids, m.ConnectorID)
}

// ListUsersByMetaClaim returns handles of users whose mapped attribute
// matches the pattern. Pattern syntax is connector-defined.
func (s *VirtualStore) ListUsersByMetaClaim(ctx context.Context, mc claim.MetaClaim, pattern string, offset, length int, domainName string) ([]User, error) {
	started := time.Now()
	users, err := s.listUsersByMetaClaim(ctx, mc, pattern, offset, length, domainName)
	s.observe("listUsersByMetaClaim", domainName, started, err)
	return users, err
}

func (s *VirtualStore) listUsersByMetaClaim(ctx context.Context, mc claim.MetaClaim, pattern string, offset, length int, domainName string) ([]User, error) {
	if mc.ClaimURI == "" || pattern == "" {
		return nil, clientError("claim URI and pattern are required")
	}
	if offset < 0 || length < 0 {
		return nil, clientError("offset and length must be non-negative")
	}
	if length == 0 {
		return []User{}, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	m, err := d.MetaClaimMapping(mc.ClaimURI)
	if err != nil {
		return nil, domainError("claim not mapped in domain", err)
	}
	conn, err := d.IdentityConnector(m.ConnectorID)
	if err != nil {
		return nil, serverError("mapped connector missing", err)
	}

	ids, err := conn.ListConnectorUserIDsByPattern(ctx, m.AttributeName, pattern, offset, length)
	if err != nil {
		return nil, serverError("connector listing failed", err)
	}
	return s.usersFromConnectorIDs(ctx, d, ids, m.ConnectorID)
}

func (s *VirtualStore) usersFromConnectorIDs(ctx context.Context, d *domain.Domain, ids []string, connectorID string) ([]User, error) {
	linked, err := d.Resolver().GetUniqueUsers(ctx, ids, connectorID)
	if err != nil {
		return nil, serverError("failed to resolve user linkages", err)
	}
	users := make([]User, 0, len(linked))
	for _, uu := range linked {
		users = append(users, User{id: uu.ID, domainName: d.Name(), store: s})
	}
	return users, nil
}

// GetClaims returns all claims of the user.
func (s *VirtualStore) GetClaims(ctx context.Context, userID, domainName string) ([]claim.Claim, error) {
	started := time.Now()
	claims, err := s.getClaims(ctx, userID, nil, domainName)
	s.observe("getClaims", domainName, started, err)
	return claims, err
}

// GetClaimsFiltered returns the claims selected by the MetaClaim filter.
func (s *VirtualStore) GetClaimsFiltered(ctx context.Context, userID string, metaClaims []claim.MetaClaim, domainName string) ([]claim.Claim, error) {
	started := time.Now()
	claims, err := s.getClaims(ctx, userID, metaClaims, domainName)
	s.observe("getClaims", domainName, started, err)
	return claims, err
}

func (s *VirtualStore) getClaims(ctx context.Context, userID string, metaClaims []claim.MetaClaim, domainName string) ([]claim.Claim, error) {
	if userID == "" {
		return nil, clientError("user ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	uu, err := d.Resolver().GetUniqueUser(ctx, userID)
	if err != nil {
		if errors.Is(err, resolver.ErrUserNotFound) {
			return nil, userNotFound(userID, err)
		}
		return nil, serverError("failed to resolve user", err)
	}

	mappings := d.MetaClaimMappings()
	var selected map[string][]string
	if len(metaClaims) > 0 {
		selected = claim.AttributeNamesByConnector(metaClaims, mappings)
	}

	attrs := make(map[string][]claim.Attribute)
	for _, p := range uu.Partitions {
		if !p.IsIdentityStore {
			continue
		}
		var names []string
		if selected != nil {
			names = selected[p.ConnectorID]
			if len(names) == 0 {
				continue
			}
		}
		conn, err := d.IdentityConnector(p.ConnectorID)
		if err != nil {
			return nil, serverError("partition connector missing", err)
		}
		values, err := conn.GetUserAttributeValues(ctx, p.ConnectorLocalID, names...)
		if err != nil {
			return nil, serverError("failed to read user attributes", err)
		}
		attrs[p.ConnectorID] = values
	}

	return claim.ToClaims(mappings, attrs), nil
}

// AddUser creates a user from the model: attribute partitions are written to
// the mapped identity connectors, credentials to the first credential
// connector that can store them, and the linkage is committed to the resolver
// last. On any failure the partitions written so far are compensated and the
// error is surfaced as a server error.
func (s *VirtualStore) AddUser(ctx context.Context, model UserModel, domainName string) (User, error) {
	started := time.Now()
	u, err := s.addUser(ctx, model, domainName)
	s.observe("addUser", domainName, started, err)
	return u, err
}

func (s *VirtualStore) addUser(ctx context.Context, model UserModel, domainName string) (User, error) {
	if len(model.Claims) == 0 && len(model.Credentials) == 0 {
		return User{}, clientError("user model needs at least one claim or credential")
	}
	if len(model.Claims) > 0 && usernameClaim(model.Claims) == "" {
		return User{}, clientError("claim %s with a non-empty value is required", claim.UsernameURI)
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return User{}, err
	}

	var partitions []resolver.UserPartition

	// Attribute partitions first.
	for connectorID, attrs := range claim.ToConnectorAttributes(model.Claims, d.MetaClaimMappings()) {
		conn, err := d.IdentityConnector(connectorID)
		if err != nil {
			s.compensateUserPartitions(ctx, d, partitions)
			return User{}, serverError("mapped connector missing", err)
		}
		localID, err := conn.AddUser(ctx, attrs)
		if err != nil {
			s.compensateUserPartitions(ctx, d, partitions)
			return User{}, serverError("failed to write user partition", err)
		}
		partitions = append(partitions, resolver.UserPartition{
			ConnectorID:      connectorID,
			ConnectorLocalID: localID,
			IsIdentityStore:  true,
		})
	}

	// Then credential partitions.
	for connectorID, creds := range connector.PartitionCredentials(model.Credentials, d.CredentialConnectors()) {
		conn, err := d.CredentialConnector(connectorID)
		if err != nil {
			s.compensateUserPartitions(ctx, d, partitions)
			return User{}, serverError("credential connector missing", err)
		}
		localID, err := conn.AddCredential(ctx, creds)
		if err != nil {
			s.compensateUserPartitions(ctx, d, partitions)
			return User{}, serverError("failed to write credential partition", err)
		}
		partitions = append(partitions, resolver.UserPartition{
			ConnectorID:      connectorID,
			ConnectorLocalID: localID,
		})
	}

	// Linkage commit is always last.
	userID := uuid.NewString()
	uu := resolver.UniqueUser{ID: userID, Partitions: partitions}
	if err := d.Resolver().AddUser(ctx, uu, d.Name()); err != nil {
		s.compensateUserPartitions(ctx, d, partitions)
		return User{}, serverError("failed to commit user linkage", err)
	}

	logger.DebugCtx(ctx, "user added",
		logger.Domain(d.Name()), logger.UserID(userID), logger.Count(len(partitions)))
	return User{id: userID, domainName: d.Name(), store: s}, nil
}

// AddUsers creates users in bulk. Partitions are written per connector in
// batches correlated by fresh UUID keys; those keys become the logical user
// IDs on success. Any connector failure, or a key missing from a returned
// batch map, compensates every partition written so far and surfaces a server
// error.
func (s *VirtualStore) AddUsers(ctx context.Context, models []UserModel, domainName string) ([]User, error) {
	started := time.Now()
	users, err := s.addUsers(ctx, models, domainName)
	s.observe("addUsers", domainName, started, err)
	return users, err
}

func (s *VirtualStore) addUsers(ctx context.Context, models []UserModel, domainName string) ([]User, error) {
	if len(models) == 0 {
		return nil, clientError("at least one user model is required")
	}
	for _, model := range models {
		if len(model.Claims) == 0 && len(model.Credentials) == 0 {
			return nil, clientError("user model needs at least one claim or credential")
		}
		if len(model.Claims) > 0 && usernameClaim(model.Claims) == "" {
			return nil, clientError("claim %s with a non-empty value is required", claim.UsernameURI)
		}
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	mappings := d.MetaClaimMappings()

	keys := make([]string, len(models))
	for i := range models {
		keys[i] = uuid.NewString()
	}

	// Invert per-user maps into per-connector batches.
	batches := make(map[string]map[string][]claim.Attribute)
	for i, model := range models {
		for connectorID, attrs := range claim.ToConnectorAttributes(model.Claims, mappings) {
			if batches[connectorID] == nil {
				batches[connectorID] = make(map[string][]claim.Attribute)
			}
			batches[connectorID][keys[i]] = attrs
		}
	}

	recorded := make(map[string][]resolver.UserPartition)
	allRecorded := func() []resolver.UserPartition {
		var out []resolver.UserPartition
		for _, ps := range recorded {
			out = append(out, ps...)
		}
		return out
	}

	for connectorID, batch := range batches {
		conn, err := d.IdentityConnector(connectorID)
		if err != nil {
			s.compensateUserPartitions(ctx, d, allRecorded())
			return nil, serverError("mapped connector missing", err)
		}
		localIDs, err := conn.AddUsers(ctx, batch)
		if err != nil {
			s.compensateUserPartitions(ctx, d, allRecorded())
			return nil, serverError("bulk user write failed", err)
		}
		for key := range batch {
			localID, ok := localIDs[key]
			if !ok {
				s.compensateUserPartitions(ctx, d, allRecorded())
				return nil, serverError("bulk user write incomplete", nil)
			}
			recorded[key] = append(recorded[key], resolver.UserPartition{
				ConnectorID:      connectorID,
				ConnectorLocalID: localID,
				IsIdentityStore:  true,
			})
		}
	}

	// Credential partitions, one partition per user per connector.
	for i, model := range models {
		for connectorID, creds := range connector.PartitionCredentials(model.Credentials, d.CredentialConnectors()) {
			conn, err := d.CredentialConnector(connectorID)
			if err != nil {
				s.compensateUserPartitions(ctx, d, allRecorded())
				return nil, serverError("credential connector missing", err)
			}
			localID, err := conn.AddCredential(ctx, creds)
			if err != nil {
				s.compensateUserPartitions(ctx, d, allRecorded())
				return nil, serverError("failed to write credential partition", err)
			}
			recorded[keys[i]] = append(recorded[keys[i]], resolver.UserPartition{
				ConnectorID:      connectorID,
				ConnectorLocalID: localID,
			})
		}
	}

	linked := make([]resolver.UniqueUser, len(models))
	for i := range models {
		linked[i] = resolver.UniqueUser{ID: keys[i], Partitions: recorded[keys[i]]}
	}
	if err := d.Resolver().AddUsers(ctx, linked, d.Name()); err != nil {
		s.compensateUserPartitions(ctx, d, allRecorded())
		return nil, serverError("failed to commit user linkages", err)
	}

	users := make([]User, len(models))
	for i := range models {
		users[i] = User{id: keys[i], domainName: d.Name(), store: s}
	}
	return users, nil
}

// UpdateUserClaims replaces the user's claims. Connectors gaining attributes
// receive new partitions, connectors losing all attributes keep an empty
// partition, and the resolver linkage is rewritten only when a connector
// rekeyed or a partition was added.
func (s *VirtualStore) UpdateUserClaims(ctx context.Context, userID string, claims []claim.Claim, domainName string) error {
	started := time.Now()
	err := s.updateUserClaims(ctx, userID, claims, domainName)
	s.observe("updateUserClaims", domainName, started, err)
	return err
}

func (s *VirtualStore) updateUserClaims(ctx context.Context, userID string, claims []claim.Claim, domainName string) error {
	if userID == "" {
		return clientError("user ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}

	uu, err := d.Resolver().GetUniqueUser(ctx, userID)
	if err != nil {
		if errors.Is(err, resolver.ErrUserNotFound) {
			return userNotFound(userID, err)
		}
		return serverError("failed to resolve user", err)
	}
	existing := uu.IdentityPartitions()

	updated := make(map[string]string, len(existing))
	if len(claims) == 0 {
		// Clearing claims empties every existing partition.
		for connectorID, localID := range existing {
			conn, err := d.IdentityConnector(connectorID)
			if err != nil {
				return serverError("partition connector missing", err)
			}
			newID, err := conn.UpdateUserAttributes(ctx, localID, nil)
			if err != nil {
				return serverError("failed to update user partition", err)
			}
			updated[connectorID] = newID
		}
	} else {
		byConnector := claim.ToConnectorAttributes(claims, d.MetaClaimMappings())

		// Union of connectors holding the user and connectors gaining
		// attributes.
		targets := make(map[string]bool, len(existing)+len(byConnector))
		for connectorID := range existing {
			targets[connectorID] = true
		}
		for connectorID := range byConnector {
			targets[connectorID] = true
		}

		for connectorID := range targets {
			conn, err := d.IdentityConnector(connectorID)
			if err != nil {
				return serverError("partition connector missing", err)
			}
			if localID, ok := existing[connectorID]; ok {
				newID, err := conn.UpdateUserAttributes(ctx, localID, byConnector[connectorID])
				if err != nil {
					return serverError("failed to update user partition", err)
				}
				updated[connectorID] = newID
			} else {
				newID, err := conn.AddUser(ctx, byConnector[connectorID])
				if err != nil {
					return serverError("failed to write user partition", err)
				}
				updated[connectorID] = newID
			}
		}
	}

	if !maps.Equal(updated, existing) {
		if err := d.Resolver().UpdateUser(ctx, userID, updated); err != nil {
			return serverError("failed to update user linkage", err)
		}
	}
	return nil
}

// DeleteUser removes the user: each linked partition is deleted from its
// connector, then the linkage is removed from the resolver. The resolver goes
// last here too, so a crash mid-delete leaves a re-deletable entry rather
// than orphan partitions.
func (s *VirtualStore) DeleteUser(ctx context.Context, userID, domainName string) error {
	started := time.Now()
	err := s.deleteUser(ctx, userID, domainName)
	s.observe("deleteUser", domainName, started, err)
	return err
}

func (s *VirtualStore) deleteUser(ctx context.Context, userID, domainName string) error {
	if userID == "" {
		return clientError("user ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}

	uu, err := d.Resolver().GetUniqueUser(ctx, userID)
	if err != nil {
		if errors.Is(err, resolver.ErrUserNotFound) {
			return userNotFound(userID, err)
		}
		return serverError("failed to resolve user", err)
	}

	for _, p := range uu.Partitions {
		if p.IsIdentityStore {
			conn, err := d.IdentityConnector(p.ConnectorID)
			if err != nil {
				return serverError("partition connector missing", err)
			}
			if err := conn.DeleteUser(ctx, p.ConnectorLocalID); err != nil && !errors.Is(err, connector.ErrUserNotFound) {
				return serverError("failed to delete user partition", err)
			}
		} else {
			conn, err := d.CredentialConnector(p.ConnectorID)
			if err != nil {
				return serverError("credential connector missing", err)
			}
			if err := conn.DeleteCredential(ctx, p.ConnectorLocalID); err != nil {
				return serverError("failed to delete credential partition", err)
			}
		}
	}

	if err := d.Resolver().DeleteUser(ctx, userID); err != nil {
		return serverError("failed to delete user linkage", err)
	}
	logger.DebugCtx(ctx, "user deleted", logger.Domain(d.Name()), logger.UserID(userID))
	return nil
}

// GetGroupsOfUser returns handles of the groups the user belongs to.
func (s *VirtualStore) GetGroupsOfUser(ctx context.Context, userID, domainName string) ([]Group, error) {
	started := time.Now()
	groups, err := s.getGroupsOfUser(ctx, userID, domainName)
	s.observe("getGroupsOfUser", domainName, started, err)
	return groups, err
}

func (s *VirtualStore) getGroupsOfUser(ctx context.Context, userID, domainName string) ([]Group, error) {
	if userID == "" {
		return nil, clientError("user ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	linked, err := d.Resolver().GetGroupsOfUser(ctx, userID)
	if err != nil {
		if errors.Is(err, resolver.ErrUserNotFound) {
			return nil, userNotFound(userID, err)
		}
		return nil, serverError("failed to list groups of user", err)
	}
	groups := make([]Group, 0, len(linked))
	for _, g := range linked {
		groups = append(groups, Group{id: g.ID, domainName: d.Name(), store: s})
	}
	return groups, nil
}

// IsUserInGroup reports whether the user is a member of the group.
func (s *VirtualStore) IsUserInGroup(ctx context.Context, userID, groupID, domainName string) (bool, error) {
	started := time.Now()
	in, err := s.isUserInGroup(ctx, userID, groupID, domainName)
	s.observe("isUserInGroup", domainName, started, err)
	return in, err
}

func (s *VirtualStore) isUserInGroup(ctx context.Context, userID, groupID, domainName string) (bool, error) {
	if userID == "" || groupID == "" {
		return false, clientError("user ID and group ID are required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return false, err
	}

	in, err := d.Resolver().IsUserInGroup(ctx, userID, groupID)
	if err != nil {
		return false, serverError("membership check failed", err)
	}
	return in, nil
}

// UpdateGroupsOfUser replaces the user's group memberships.
func (s *VirtualStore) UpdateGroupsOfUser(ctx context.Context, userID string, groupIDs []string, domainName string) error {
	started := time.Now()
	err := s.updateGroupsOfUser(ctx, userID, groupIDs, domainName)
	s.observe("updateGroupsOfUser", domainName, started, err)
	return err
}

func (s *VirtualStore) updateGroupsOfUser(ctx context.Context, userID string, groupIDs []string, domainName string) error {
	if userID == "" {
		return clientError("user ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}

	if err := d.Resolver().UpdateGroupsOfUser(ctx, userID, groupIDs); err != nil {
		if errors.Is(err, resolver.ErrUserNotFound) {
			return userNotFound(userID, err)
		}
		return serverError("failed to update memberships", err)
	}
	return nil
}
