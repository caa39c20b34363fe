// Package memory provides an in-memory unique-id resolver. It backs the
// default development configuration and the core test suites.
package memory

import (
	"context"
	"sync"

	"github.com/fedid/fedid/pkg/resolver"
)

// Resolver keeps linkages and membership edges in maps guarded by a RWMutex.
// ListUsers/ListGroups iterate in insertion order.
type Resolver struct {
	mu sync.RWMutex

	users     map[string]resolver.UniqueUser
	userOrder []string
	userDom   map[string]string

	groups     map[string]resolver.UniqueGroup
	groupOrder []string
	groupDom   map[string]string

	// membership[userID][groupID]
	membership map[string]map[string]bool
}

var _ resolver.UniqueIDResolver = (*Resolver)(nil)

// New creates an empty in-memory resolver.
func New() *Resolver {
	return &Resolver{
		users:      make(map[string]resolver.UniqueUser),
		userDom:    make(map[string]string),
		groups:     make(map[string]resolver.UniqueGroup),
		groupDom:   make(map[string]string),
		membership: make(map[string]map[string]bool),
	}
}

// IsUserExists reports whether a linkage exists for the user ID.
func (r *Resolver) IsUserExists(_ context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok, nil
}

// IsGroupExists reports whether a linkage exists for the group ID.
func (r *Resolver) IsGroupExists(_ context.Context, groupID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[groupID]
	return ok, nil
}

// GetUniqueUser returns the user's linkage.
func (r *Resolver) GetUniqueUser(_ context.Context, userID string) (resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return resolver.UniqueUser{}, resolver.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// GetUniqueUserFromConnectorUserID returns the user owning the partition.
func (r *Resolver) GetUniqueUserFromConnectorUserID(_ context.Context, connectorUserID, connectorID string) (resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.userOrder {
		u := r.users[id]
		for _, p := range u.Partitions {
			if p.ConnectorID == connectorID && p.ConnectorLocalID == connectorUserID {
				return cloneUser(u), nil
			}
		}
	}
	return resolver.UniqueUser{}, resolver.ErrUserNotFound
}

// GetUniqueUsers resolves partitions in input order, skipping unlinked ones.
func (r *Resolver) GetUniqueUsers(ctx context.Context, connectorUserIDs []string, connectorID string) ([]resolver.UniqueUser, error) {
	var out []resolver.UniqueUser
	for _, cid := range connectorUserIDs {
		u, err := r.GetUniqueUserFromConnectorUserID(ctx, cid, connectorID)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// ListUsers returns linkages in insertion order.
func (r *Resolver) ListUsers(_ context.Context, offset, length int) ([]resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []resolver.UniqueUser
	for _, id := range pageIDs(r.userOrder, offset, length) {
		out = append(out, cloneUser(r.users[id]))
	}
	return out, nil
}

// GetUniqueGroup returns the group's linkage.
func (r *Resolver) GetUniqueGroup(_ context.Context, groupID string) (resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return resolver.UniqueGroup{}, resolver.ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

// GetUniqueGroupFromConnectorGroupID returns the group owning the partition.
func (r *Resolver) GetUniqueGroupFromConnectorGroupID(_ context.Context, connectorGroupID, connectorID string) (resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.groupOrder {
		g := r.groups[id]
		for _, p := range g.Partitions {
			if p.ConnectorID == connectorID && p.ConnectorLocalID == connectorGroupID {
				return cloneGroup(g), nil
			}
		}
	}
	return resolver.UniqueGroup{}, resolver.ErrGroupNotFound
}

// GetUniqueGroups resolves group partitions in input order, skipping
// unlinked ones.
func (r *Resolver) GetUniqueGroups(ctx context.Context, connectorGroupIDs []string, connectorID string) ([]resolver.UniqueGroup, error) {
	var out []resolver.UniqueGroup
	for _, cid := range connectorGroupIDs {
		g, err := r.GetUniqueGroupFromConnectorGroupID(ctx, cid, connectorID)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// ListGroups returns group linkages in insertion order.
func (r *Resolver) ListGroups(_ context.Context, offset, length int) ([]resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []resolver.UniqueGroup
	for _, id := range pageIDs(r.groupOrder, offset, length) {
		out = append(out, cloneGroup(r.groups[id]))
	}
	return out, nil
}

// GetGroupsOfUser returns the user's groups in group insertion order.
func (r *Resolver) GetGroupsOfUser(_ context.Context, userID string) ([]resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.users[userID]; !ok {
		return nil, resolver.ErrUserNotFound
	}
	var out []resolver.UniqueGroup
	for _, gid := range r.groupOrder {
		if r.membership[userID][gid] {
			out = append(out, cloneGroup(r.groups[gid]))
		}
	}
	return out, nil
}

// GetUsersOfGroup returns the group's members in user insertion order.
func (r *Resolver) GetUsersOfGroup(_ context.Context, groupID string) ([]resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.groups[groupID]; !ok {
		return nil, resolver.ErrGroupNotFound
	}
	var out []resolver.UniqueUser
	for _, uid := range r.userOrder {
		if r.membership[uid][groupID] {
			out = append(out, cloneUser(r.users[uid]))
		}
	}
	return out, nil
}

// IsUserInGroup reports membership.
func (r *Resolver) IsUserInGroup(_ context.Context, userID, groupID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membership[userID][groupID], nil
}

// AddUser records a new linkage.
func (r *Resolver) AddUser(_ context.Context, user resolver.UniqueUser, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return resolver.ErrDuplicateUser
	}
	r.users[user.ID] = cloneUser(user)
	r.userOrder = append(r.userOrder, user.ID)
	r.userDom[user.ID] = domainName
	return nil
}

// AddUsers records linkages in bulk, all or nothing.
func (r *Resolver) AddUsers(_ context.Context, users []resolver.UniqueUser, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range users {
		if _, ok := r.users[u.ID]; ok {
			return resolver.ErrDuplicateUser
		}
	}
	for _, u := range users {
		r.users[u.ID] = cloneUser(u)
		r.userOrder = append(r.userOrder, u.ID)
		r.userDom[u.ID] = domainName
	}
	return nil
}

// UpdateUser replaces the user's identity-store partitions, keeping
// credential partitions untouched.
func (r *Resolver) UpdateUser(_ context.Context, userID string, connectorUserIDs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return resolver.ErrUserNotFound
	}

	partitions := make([]resolver.UserPartition, 0, len(connectorUserIDs)+len(u.Partitions))
	for connectorID, localID := range connectorUserIDs {
		partitions = append(partitions, resolver.UserPartition{
			ConnectorID:      connectorID,
			ConnectorLocalID: localID,
			IsIdentityStore:  true,
		})
	}
	for _, p := range u.Partitions {
		if !p.IsIdentityStore {
			partitions = append(partitions, p)
		}
	}
	u.Partitions = partitions
	r.users[userID] = u
	return nil
}

// DeleteUser removes the linkage and the user's membership edges.
func (r *Resolver) DeleteUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return resolver.ErrUserNotFound
	}
	delete(r.users, userID)
	delete(r.userDom, userID)
	delete(r.membership, userID)
	r.userOrder = removeID(r.userOrder, userID)
	return nil
}

// AddGroup records a new group linkage.
func (r *Resolver) AddGroup(_ context.Context, group resolver.UniqueGroup, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[group.ID]; ok {
		return resolver.ErrDuplicateGroup
	}
	r.groups[group.ID] = cloneGroup(group)
	r.groupOrder = append(r.groupOrder, group.ID)
	r.groupDom[group.ID] = domainName
	return nil
}

// AddGroups records group linkages in bulk, all or nothing.
func (r *Resolver) AddGroups(_ context.Context, groups []resolver.UniqueGroup, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range groups {
		if _, ok := r.groups[g.ID]; ok {
			return resolver.ErrDuplicateGroup
		}
	}
	for _, g := range groups {
		r.groups[g.ID] = cloneGroup(g)
		r.groupOrder = append(r.groupOrder, g.ID)
		r.groupDom[g.ID] = domainName
	}
	return nil
}

// UpdateGroup replaces the group's partitions.
func (r *Resolver) UpdateGroup(_ context.Context, groupID string, connectorGroupIDs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return resolver.ErrGroupNotFound
	}
	partitions := make([]resolver.GroupPartition, 0, len(connectorGroupIDs))
	for connectorID, localID := range connectorGroupIDs {
		partitions = append(partitions, resolver.GroupPartition{
			ConnectorID:      connectorID,
			ConnectorLocalID: localID,
		})
	}
	g.Partitions = partitions
	r.groups[groupID] = g
	return nil
}

// DeleteGroup removes the group linkage and its membership edges.
func (r *Resolver) DeleteGroup(_ context.Context, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[groupID]; !ok {
		return resolver.ErrGroupNotFound
	}
	delete(r.groups, groupID)
	delete(r.groupDom, groupID)
	for uid := range r.membership {
		delete(r.membership[uid], groupID)
	}
	r.groupOrder = removeID(r.groupOrder, groupID)
	return nil
}

// UpdateGroupsOfUser replaces the user's membership edges.
func (r *Resolver) UpdateGroupsOfUser(_ context.Context, userID string, groupIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return resolver.ErrUserNotFound
	}
	edges := make(map[string]bool, len(groupIDs))
	for _, gid := range groupIDs {
		edges[gid] = true
	}
	r.membership[userID] = edges
	return nil
}

// UpdateUsersOfGroup replaces the group's membership edges.
func (r *Resolver) UpdateUsersOfGroup(_ context.Context, groupID string, userIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[groupID]; !ok {
		return resolver.ErrGroupNotFound
	}
	members := make(map[string]bool, len(userIDs))
	for _, uid := range userIDs {
		members[uid] = true
	}
	for uid := range r.membership {
		if !members[uid] {
			delete(r.membership[uid], groupID)
		}
	}
	for _, uid := range userIDs {
		if r.membership[uid] == nil {
			r.membership[uid] = make(map[string]bool)
		}
		r.membership[uid][groupID] = true
	}
	return nil
}

func cloneUser(u resolver.UniqueUser) resolver.UniqueUser {
	out := resolver.UniqueUser{ID: u.ID}
	out.Partitions = make([]resolver.UserPartition, len(u.Partitions))
	copy(out.Partitions, u.Partitions)
	return out
}

func cloneGroup(g resolver.UniqueGroup) resolver.UniqueGroup {
	out := resolver.UniqueGroup{ID: g.ID}
	out.Partitions = make([]resolver.GroupPartition, len(g.Partitions))
	copy(out.Partitions, g.Partitions)
	return out
}

func pageIDs(ids []string, offset, length int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) || length <= 0 {
		return nil
	}
	end := offset + length
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
