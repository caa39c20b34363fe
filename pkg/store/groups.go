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

// GetGroup returns a handle to the group with the given logical ID.
func (s *VirtualStore) GetGroup(ctx context.Context, groupID, domainName string) (Group, error) {
	started := time.Now()
	g, err := s.getGroup(ctx, groupID, domainName)
	s.observe("getGroup", domainName, started, err)
	return g, err
}

func (s *VirtualStore) getGroup(ctx context.Context, groupID, domainName string) (Group, error) {
	if groupID == "" {
		return Group{}, clientError("group ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return Group{}, err
	}

	exists, err := d.Resolver().IsGroupExists(ctx, groupID)
	if err != nil {
		return Group{}, serverError("failed to resolve group", err)
	}
	if !exists {
		return Group{}, groupNotFound(groupID, nil)
	}
	return Group{id: groupID, domainName: d.Name(), store: s}, nil
}

// GetGroupByClaim returns a handle to the group identified by the claim value.
func (s *VirtualStore) GetGroupByClaim(ctx context.Context, c claim.Claim, domainName string) (Group, error) {
	started := time.Now()
	g, err := s.getGroupByClaim(ctx, c, domainName)
	s.observe("getGroupByClaim", domainName, started, err)
	return g, err
}

func (s *VirtualStore) getGroupByClaim(ctx context.Context, c claim.Claim, domainName string) (Group, error) {
	if c.ClaimURI == "" || c.Value == "" {
		return Group{}, clientError("claim URI and value are required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return Group{}, err
	}

	m, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return Group{}, domainError("claim not mapped in domain", err)
	}
	conn, err := d.IdentityConnector(m.ConnectorID)
	if err != nil {
		return Group{}, serverError("mapped connector missing", err)
	}

	connectorGroupID, err := conn.GetConnectorGroupID(ctx, m.AttributeName, c.Value)
	if err != nil {
		if errors.Is(err, connector.ErrGroupNotFound) {
			return Group{}, groupNotFound(c.Value, err)
		}
		return Group{}, serverError("connector lookup failed", err)
	}

	g, err := d.Resolver().GetUniqueGroupFromConnectorGroupID(ctx, connectorGroupID, m.ConnectorID)
	if err != nil || g.ID == "" {
		return Group{}, serverError("group partition has no linkage", err)
	}
	return Group{id: g.ID, domainName: d.Name(), store: s}, nil
}

// ListGroups returns group handles honoring offset and length. A zero length
// returns an empty list without any I/O.
func (s *VirtualStore) ListGroups(ctx context.Context, offset, length int, domainName string) ([]Group, error) {
	started := time.Now()
	groups, err := s.listGroups(ctx, offset, length, domainName)
	s.observe("listGroups", domainName, started, err)
	return groups, err
}

func (s *VirtualStore) listGroups(ctx context.Context, offset, length int, domainName string) ([]Group, error) {
	if offset < 0 || length < 0 {
		return nil, clientError("offset and length must be non-negative")
	}
	if length == 0 {
		return []Group{}, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	linked, err := d.Resolver().ListGroups(ctx, offset, length)
	if err != nil {
		return nil, serverError("failed to list groups", err)
	}
	groups := make([]Group, 0, len(linked))
	for _, g := range linked {
		groups = append(groups, Group{id: g.ID, domainName: d.Name(), store: s})
	}
	return groups, nil
}

// ListGroupsByClaim returns handles of groups whose mapped attribute equals
// the claim value.
func (s *VirtualStore) ListGroupsByClaim(ctx context.Context, c claim.Claim, offset, length int, domainName string) ([]Group, error) {
	started := time.Now()
	groups, err := s.listGroupsByClaim(ctx, c, offset, length, domainName)
	s.observe("listGroupsByClaim", domainName, started, err)
	return groups, err
}

func (s *VirtualStore) listGroupsByClaim(ctx context.Context, c claim.Claim, offset, length int, domainName string) ([]Group, error) {
	if c.ClaimURI == "" || c.Value == "" {
		return nil, clientError("claim URI and value are required")
	}
	if offset < 0 || length < 0 {
		return nil, clientError("offset and length must be non-negative")
	}
	if length == 0 {
		return []Group{}, nil
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

	ids, err := conn.ListConnectorGroupIDs(ctx, m.AttributeName, c.Value, offset, length)
	if err != nil {
		return nil, serverError("connector listing failed", err)
	}
	return s.groupsFromConnectorIDs(ctx, d, ids, m.ConnectorID)
}

// ListGroupsByMetaClaim returns handles of groups whose mapped attribute
// matches the pattern.
func (s *VirtualStore) ListGroupsByMetaClaim(ctx context.Context, mc claim.MetaClaim, pattern string, offset, length int, domainName string) ([]Group, error) {
	started := time.Now()
	groups, err := s.listGroupsByMetaClaim(ctx, mc, pattern, offset, length, domainName)
	s.observe("listGroupsByMetaClaim", domainName, started, err)
	return groups, err
}

func (s *VirtualStore) listGroupsByMetaClaim(ctx context.Context, mc claim.MetaClaim, pattern string, offset, length int, domainName string) ([]Group, error) {
	if mc.ClaimURI == "" || pattern == "" {
		return nil, clientError("claim URI and pattern are required")
	}
	if offset < 0 || length < 0 {
		return nil, clientError("offset and length must be non-negative")
	}
	if length == 0 {
		return []Group{}, nil
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

	ids, err := conn.ListConnectorGroupIDsByPattern(ctx, m.AttributeName, pattern, offset, length)
	if err != nil {
		return nil, serverError("connector listing failed", err)
	}
	return s.groupsFromConnectorIDs(ctx, d, ids, m.ConnectorID)
}

func (s *VirtualStore) groupsFromConnectorIDs(ctx context.Context, d *domain.Domain, ids []string, connectorID string) ([]Group, error) {
	linked, err := d.Resolver().GetUniqueGroups(ctx, ids, connectorID)
	if err != nil {
		return nil, serverError("failed to resolve group linkages", err)
	}
	groups := make([]Group, 0, len(linked))
	for _, g := range linked {
		groups = append(groups, Group{id: g.ID, domainName: d.Name(), store: s})
	}
	return groups, nil
}

// GetGroupClaims returns all claims of the group.
func (s *VirtualStore) GetGroupClaims(ctx context.Context, groupID, domainName string) ([]claim.Claim, error) {
	started := time.Now()
	claims, err := s.getGroupClaims(ctx, groupID, domainName)
	s.observe("getGroupClaims", domainName, started, err)
	return claims, err
}

func (s *VirtualStore) getGroupClaims(ctx context.Context, groupID, domainName string) ([]claim.Claim, error) {
	if groupID == "" {
		return nil, clientError("group ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	g, err := d.Resolver().GetUniqueGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, resolver.ErrGroupNotFound) {
			return nil, groupNotFound(groupID, err)
		}
		return nil, serverError("failed to resolve group", err)
	}

	mappings := d.MetaClaimMappings()
	attrs := make(map[string][]claim.Attribute)
	for _, p := range g.Partitions {
		conn, err := d.IdentityConnector(p.ConnectorID)
		if err != nil {
			return nil, serverError("partition connector missing", err)
		}
		values, err := conn.GetGroupAttributeValues(ctx, p.ConnectorLocalID)
		if err != nil {
			return nil, serverError("failed to read group attributes", err)
		}
		attrs[p.ConnectorID] = values
	}

	return claim.ToClaims(mappings, attrs), nil
}

// AddGroup creates a group from the model. Same shape as AddUser minus the
// credential stage.
func (s *VirtualStore) AddGroup(ctx context.Context, model GroupModel, domainName string) (Group, error) {
	started := time.Now()
	g, err := s.addGroup(ctx, model, domainName)
	s.observe("addGroup", domainName, started, err)
	return g, err
}

func (s *VirtualStore) addGroup(ctx context.Context, model GroupModel, domainName string) (Group, error) {
	if len(model.Claims) == 0 {
		return Group{}, clientError("group model needs at least one claim")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return Group{}, err
	}

	var partitions []resolver.GroupPartition
	for connectorID, attrs := range claim.ToConnectorAttributes(model.Claims, d.MetaClaimMappings()) {
		conn, err := d.IdentityConnector(connectorID)
		if err != nil {
			s.compensateGroupPartitions(ctx, d, partitions)
			return Group{}, serverError("mapped connector missing", err)
		}
		localID, err := conn.AddGroup(ctx, attrs)
		if err != nil {
			s.compensateGroupPartitions(ctx, d, partitions)
			return Group{}, serverError("failed to write group partition", err)
		}
		partitions = append(partitions, resolver.GroupPartition{
			ConnectorID:      connectorID,
			ConnectorLocalID: localID,
		})
	}

	groupID := uuid.NewString()
	g := resolver.UniqueGroup{ID: groupID, Partitions: partitions}
	if err := d.Resolver().AddGroup(ctx, g, d.Name()); err != nil {
		s.compensateGroupPartitions(ctx, d, partitions)
		return Group{}, serverError("failed to commit group linkage", err)
	}

	logger.DebugCtx(ctx, "group added", logger.Domain(d.Name()), logger.GroupID(groupID))
	return Group{id: groupID, domainName: d.Name(), store: s}, nil
}

// AddGroups creates groups in bulk with the same batch-key semantics as
// AddUsers.
func (s *VirtualStore) AddGroups(ctx context.Context, models []GroupModel, domainName string) ([]Group, error) {
	started := time.Now()
	groups, err := s.addGroups(ctx, models, domainName)
	s.observe("addGroups", domainName, started, err)
	return groups, err
}

func (s *VirtualStore) addGroups(ctx context.Context, models []GroupModel, domainName string) ([]Group, error) {
	if len(models) == 0 {
		return nil, clientError("at least one group model is required")
	}
	for _, model := range models {
		if len(model.Claims) == 0 {
			return nil, clientError("group model needs at least one claim")
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

	batches := make(map[string]map[string][]claim.Attribute)
	for i, model := range models {
		for connectorID, attrs := range claim.ToConnectorAttributes(model.Claims, mappings) {
			if batches[connectorID] == nil {
				batches[connectorID] = make(map[string][]claim.Attribute)
			}
			batches[connectorID][keys[i]] = attrs
		}
	}

	recorded := make(map[string][]resolver.GroupPartition)
	allRecorded := func() []resolver.GroupPartition {
		var out []resolver.GroupPartition
		for _, ps := range recorded {
			out = append(out, ps...)
		}
		return out
	}

	for connectorID, batch := range batches {
		conn, err := d.IdentityConnector(connectorID)
		if err != nil {
			s.compensateGroupPartitions(ctx, d, allRecorded())
			return nil, serverError("mapped connector missing", err)
		}
		localIDs, err := conn.AddGroups(ctx, batch)
		if err != nil {
			s.compensateGroupPartitions(ctx, d, allRecorded())
			return nil, serverError("bulk group write failed", err)
		}
		for key := range batch {
			localID, ok := localIDs[key]
			if !ok {
				s.compensateGroupPartitions(ctx, d, allRecorded())
				return nil, serverError("bulk group write incomplete", nil)
			}
			recorded[key] = append(recorded[key], resolver.GroupPartition{
				ConnectorID:      connectorID,
				ConnectorLocalID: localID,
			})
		}
	}

	linked := make([]resolver.UniqueGroup, len(models))
	for i := range models {
		linked[i] = resolver.UniqueGroup{ID: keys[i], Partitions: recorded[keys[i]]}
	}
	if err := d.Resolver().AddGroups(ctx, linked, d.Name()); err != nil {
		s.compensateGroupPartitions(ctx, d, allRecorded())
		return nil, serverError("failed to commit group linkages", err)
	}

	groups := make([]Group, len(models))
	for i := range models {
		groups[i] = Group{id: keys[i], domainName: d.Name(), store: s}
	}
	return groups, nil
}

// UpdateGroupClaims replaces the group's claims, mirroring UpdateUserClaims.
func (s *VirtualStore) UpdateGroupClaims(ctx context.Context, groupID string, claims []claim.Claim, domainName string) error {
	started := time.Now()
	err := s.updateGroupClaims(ctx, groupID, claims, domainName)
	s.observe("updateGroupClaims", domainName, started, err)
	return err
}

func (s *VirtualStore) updateGroupClaims(ctx context.Context, groupID string, claims []claim.Claim, domainName string) error {
	if groupID == "" {
		return clientError("group ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}

	g, err := d.Resolver().GetUniqueGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, resolver.ErrGroupNotFound) {
			return groupNotFound(groupID, err)
		}
		return serverError("failed to resolve group", err)
	}
	existing := g.PartitionMap()

	updated := make(map[string]string, len(existing))
	if len(claims) == 0 {
		for connectorID, localID := range existing {
			conn, err := d.IdentityConnector(connectorID)
			if err != nil {
				return serverError("partition connector missing", err)
			}
			newID, err := conn.UpdateGroupAttributes(ctx, localID, nil)
			if err != nil {
				return serverError("failed to update group partition", err)
			}
			updated[connectorID] = newID
		}
	} else {
		byConnector := claim.ToConnectorAttributes(claims, d.MetaClaimMappings())

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
				newID, err := conn.UpdateGroupAttributes(ctx, localID, byConnector[connectorID])
				if err != nil {
					return serverError("failed to update group partition", err)
				}
				updated[connectorID] = newID
			} else {
				newID, err := conn.AddGroup(ctx, byConnector[connectorID])
				if err != nil {
					return serverError("failed to write group partition", err)
				}
				updated[connectorID] = newID
			}
		}
	}

	if !maps.Equal(updated, existing) {
		if err := d.Resolver().UpdateGroup(ctx, groupID, updated); err != nil {
			return serverError("failed to update group linkage", err)
		}
	}
	return nil
}

// DeleteGroup removes the group: partitions first, resolver linkage last.
func (s *VirtualStore) DeleteGroup(ctx context.Context, groupID, domainName string) error {
	started := time.Now()
	err := s.deleteGroup(ctx, groupID, domainName)
	s.observe("deleteGroup", domainName, started, err)
	return err
}

func (s *VirtualStore) deleteGroup(ctx context.Context, groupID, domainName string) error {
	if groupID == "" {
		return clientError("group ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}

	g, err := d.Resolver().GetUniqueGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, resolver.ErrGroupNotFound) {
			return groupNotFound(groupID, err)
		}
		return serverError("failed to resolve group", err)
	}

	for _, p := range g.Partitions {
		conn, err := d.IdentityConnector(p.ConnectorID)
		if err != nil {
			return serverError("partition connector missing", err)
		}
		if err := conn.DeleteGroup(ctx, p.ConnectorLocalID); err != nil && !errors.Is(err, connector.ErrGroupNotFound) {
			return serverError("failed to delete group partition", err)
		}
	}

	if err := d.Resolver().DeleteGroup(ctx, groupID); err != nil {
		return serverError("failed to delete group linkage", err)
	}
	logger.DebugCtx(ctx, "group deleted", logger.Domain(d.Name()), logger.GroupID(groupID))
	return nil
}

// GetUsersOfGroup returns handles of the group's members.
func (s *VirtualStore) GetUsersOfGroup(ctx context.Context, groupID, domainName string) ([]User, error) {
	started := time.Now()
	users, err := s.getUsersOfGroup(ctx, groupID, domainName)
	s.observe("getUsersOfGroup", domainName, started, err)
	return users, err
}

func (s *VirtualStore) getUsersOfGroup(ctx context.Context, groupID, domainName string) ([]User, error) {
	if groupID == "" {
		return nil, clientError("group ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	linked, err := d.Resolver().GetUsersOfGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, resolver.ErrGroupNotFound) {
			return nil, groupNotFound(groupID, err)
		}
		return nil, serverError("failed to list users of group", err)
	}
	users := make([]User, 0, len(linked))
	for _, uu := range linked {
		users = append(users, User{id: uu.ID, domainName: d.Name(), store: s})
	}
	return users, nil
}

// UpdateUsersOfGroup replaces the group's member set.
func (s *VirtualStore) UpdateUsersOfGroup(ctx context.Context, groupID string, userIDs []string, domainName string) error {
	started := time.Now()
	err := s.updateUsersOfGroup(ctx, groupID, userIDs, domainName)
	s.observe("updateUsersOfGroup", domainName, started, err)
	return err
}

func (s *VirtualStore) updateUsersOfGroup(ctx context.Context, groupID string, userIDs []string, domainName string) error {
	if groupID == "" {
		return clientError("group ID is required")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}

	if err := d.Resolver().UpdateUsersOfGroup(ctx, groupID, userIDs); err != nil {
		if errors.Is(err, resolver.ErrGroupNotFound) {
			return groupNotFound(groupID, err)
		}
		return serverError("failed to update memberships", err)
	}
	return nil
}
