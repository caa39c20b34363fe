// Package memory provides in-memory connector implementations. They back the
// default development configuration and the core test suites; nothing
// survives a restart.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
)

// IdentityConnector is an in-memory identity-store connector. Partitions live
// in plain maps guarded by a RWMutex.
type IdentityConnector struct {
	id string

	mu     sync.RWMutex
	seq    int
	users  map[string][]claim.Attribute
	groups map[string][]claim.Attribute
}

// compile-time interface check
var _ connector.IdentityStoreConnector = (*IdentityConnector)(nil)

// NewIdentityConnector creates an empty in-memory identity connector.
func NewIdentityConnector(id string) *IdentityConnector {
	return &IdentityConnector{
		id:     id,
		users:  make(map[string][]claim.Attribute),
		groups: make(map[string][]claim.Attribute),
	}
}

// ID returns the connector ID.
func (c *IdentityConnector) ID() string { return c.id }

func (c *IdentityConnector) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%s-%d", c.id, prefix, c.seq)
}

// AddUser stores a new user partition.
func (c *IdentityConnector) AddUser(_ context.Context, attrs []claim.Attribute) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID("u")
	c.users[id] = cloneAttrs(attrs)
	return id, nil
}

// AddUsers stores user partitions in bulk. The in-memory store cannot
// partially fail, so the returned map always covers every key.
func (c *IdentityConnector) AddUsers(_ context.Context, attrs map[string][]claim.Attribute) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make(map[string]string, len(attrs))
	for key, list := range attrs {
		id := c.nextID("u")
		c.users[id] = cloneAttrs(list)
		ids[key] = id
	}
	return ids, nil
}

// UpdateUserAttributes replaces the partition's attributes. The in-memory
// store never rekeys.
func (c *IdentityConnector) UpdateUserAttributes(_ context.Context, userID string, attrs []claim.Attribute) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.users[userID]; !ok {
		return "", connector.ErrUserNotFound
	}
	c.users[userID] = cloneAttrs(attrs)
	return userID, nil
}

// GetConnectorUserID returns the ID of the user whose attribute equals value.
func (c *IdentityConnector) GetConnectorUserID(_ context.Context, attributeName, attributeValue string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.sortedUserIDs() {
		if hasAttr(c.users[id], attributeName, attributeValue) {
			return id, nil
		}
	}
	return "", connector.ErrUserNotFound
}

// ListConnectorUserIDs returns IDs of users whose attribute equals value.
func (c *IdentityConnector) ListConnectorUserIDs(_ context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for _, id := range c.sortedUserIDs() {
		if hasAttr(c.users[id], attributeName, attributeValue) {
			ids = append(ids, id)
		}
	}
	return page(ids, offset, length), nil
}

// ListConnectorUserIDsByPattern returns IDs of users whose attribute matches
// the glob pattern (path.Match syntax).
func (c *IdentityConnector) ListConnectorUserIDsByPattern(_ context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for _, id := range c.sortedUserIDs() {
		if matchesPattern(c.users[id], attributeName, pattern) {
			ids = append(ids, id)
		}
	}
	return page(ids, offset, length), nil
}

// GetUserAttributeValues returns the partition's attributes.
func (c *IdentityConnector) GetUserAttributeValues(_ context.Context, userID string, attributeNames ...string) ([]claim.Attribute, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs, ok := c.users[userID]
	if !ok {
		return nil, connector.ErrUserNotFound
	}
	return filterAttrs(attrs, attributeNames), nil
}

// RemoveAddedUsersInAFailure deletes the partitions if present. Idempotent.
func (c *IdentityConnector) RemoveAddedUsersInAFailure(_ context.Context, userIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range userIDs {
		delete(c.users, id)
	}
	return nil
}

// DeleteUser removes the partition.
func (c *IdentityConnector) DeleteUser(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.users[userID]; !ok {
		return connector.ErrUserNotFound
	}
	delete(c.users, userID)
	return nil
}

// AddGroup stores a new group partition.
func (c *IdentityConnector) AddGroup(_ context.Context, attrs []claim.Attribute) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID("g")
	c.groups[id] = cloneAttrs(attrs)
	return id, nil
}

// AddGroups stores group partitions in bulk.
func (c *IdentityConnector) AddGroups(_ context.Context, attrs map[string][]claim.Attribute) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make(map[string]string, len(attrs))
	for key, list := range attrs {
		id := c.nextID("g")
		c.groups[id] = cloneAttrs(list)
		ids[key] = id
	}
	return ids, nil
}

// UpdateGroupAttributes replaces the group partition's attributes.
func (c *IdentityConnector) UpdateGroupAttributes(_ context.Context, groupID string, attrs []claim.Attribute) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.groups[groupID]; !ok {
		return "", connector.ErrGroupNotFound
	}
	c.groups[groupID] = cloneAttrs(attrs)
	return groupID, nil
}

// GetConnectorGroupID returns the ID of the group whose attribute equals value.
func (c *IdentityConnector) GetConnectorGroupID(_ context.Context, attributeName, attributeValue string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.sortedGroupIDs() {
		if hasAttr(c.groups[id], attributeName, attributeValue) {
			return id, nil
		}
	}
	return "", connector.ErrGroupNotFound
}

// ListConnectorGroupIDs returns IDs of groups whose attribute equals value.
func (c *IdentityConnector) ListConnectorGroupIDs(_ context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for _, id := range c.sortedGroupIDs() {
		if hasAttr(c.groups[id], attributeName, attributeValue) {
			ids = append(ids, id)
		}
	}
	return page(ids, offset, length), nil
}

// ListConnectorGroupIDsByPattern returns IDs of groups whose attribute
// matches the glob pattern.
func (c *IdentityConnector) ListConnectorGroupIDsByPattern(_ context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for _, id := range c.sortedGroupIDs() {
		if matchesPattern(c.groups[id], attributeName, pattern) {
			ids = append(ids, id)
		}
	}
	return page(ids, offset, length), nil
}

// GetGroupAttributeValues returns the group partition's attributes.
func (c *IdentityConnector) GetGroupAttributeValues(_ context.Context, groupID string, attributeNames ...string) ([]claim.Attribute, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs, ok := c.groups[groupID]
	if !ok {
		return nil, connector.ErrGroupNotFound
	}
	return filterAttrs(attrs, attributeNames), nil
}

// RemoveAddedGroupsInAFailure deletes the group partitions if present.
func (c *IdentityConnector) RemoveAddedGroupsInAFailure(_ context.Context, groupIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range groupIDs {
		delete(c.groups, id)
	}
	return nil
}

// DeleteGroup removes the group partition.
func (c *IdentityConnector) DeleteGroup(_ context.Context, groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.groups[groupID]; !ok {
		return connector.ErrGroupNotFound
	}
	delete(c.groups, groupID)
	return nil
}

// sortedUserIDs returns user IDs in a stable order so listing is
// deterministic across calls. Caller must hold at least a read lock.
func (c *IdentityConnector) sortedUserIDs() []string {
	ids := make([]string, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *IdentityConnector) sortedGroupIDs() []string {
	ids := make([]string, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneAttrs(attrs []claim.Attribute) []claim.Attribute {
	out := make([]claim.Attribute, len(attrs))
	copy(out, attrs)
	return out
}

func hasAttr(attrs []claim.Attribute, name, value string) bool {
	for _, a := range attrs {
		if a.Name == name && a.Value == value {
			return true
		}
	}
	return false
}

func matchesPattern(attrs []claim.Attribute, name, pattern string) bool {
	for _, a := range attrs {
		if a.Name != name {
			continue
		}
		if ok, err := path.Match(pattern, a.Value); err == nil && ok {
			return true
		}
	}
	return false
}

func filterAttrs(attrs []claim.Attribute, names []string) []claim.Attribute {
	if len(names) == 0 {
		out := make([]claim.Attribute, len(attrs))
		copy(out, attrs)
		return out
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []claim.Attribute
	for _, a := range attrs {
		if wanted[a.Name] {
			out = append(out, a)
		}
	}
	return out
}

func page(ids []string, offset, length int) []string {
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
