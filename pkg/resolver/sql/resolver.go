// Package sql implements the unique-id resolver contract on a relational
// database through GORM. One database holds the linkage and membership tables
// for a single domain; SQLite and PostgreSQL are supported via pkg/database.
package sql

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/fedid/fedid/pkg/database"
	"github.com/fedid/fedid/pkg/resolver"
)

// userRow is the linkage anchor for one logical user. The auto-incremented
// Seq doubles as a stable insertion order for listings; SQLite only
// auto-increments the primary key, so Seq is the key and ID is unique.
type userRow struct {
	Seq    int64  `gorm:"primaryKey;autoIncrement"`
	ID     string `gorm:"uniqueIndex"`
	Domain string `gorm:"index"`
}

func (userRow) TableName() string { return "resolver_users" }

// userPartitionRow is one partition of a user linkage.
type userPartitionRow struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	UserID           string `gorm:"index:idx_user_part"`
	ConnectorID      string `gorm:"index:idx_part_lookup"`
	ConnectorLocalID string `gorm:"index:idx_part_lookup"`
	IsIdentityStore  bool
}

func (userPartitionRow) TableName() string { return "resolver_user_partitions" }

type groupRow struct {
	Seq    int64  `gorm:"primaryKey;autoIncrement"`
	ID     string `gorm:"uniqueIndex"`
	Domain string `gorm:"index"`
}

func (groupRow) TableName() string { return "resolver_groups" }

type groupPartitionRow struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	GroupID          string `gorm:"index:idx_group_part"`
	ConnectorID      string `gorm:"index:idx_gpart_lookup"`
	ConnectorLocalID string `gorm:"index:idx_gpart_lookup"`
}

func (groupPartitionRow) TableName() string { return "resolver_group_partitions" }

// membershipRow is one user-group edge.
type membershipRow struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	UserID  string `gorm:"index;uniqueIndex:idx_member_edge"`
	GroupID string `gorm:"index;uniqueIndex:idx_member_edge"`
}

func (membershipRow) TableName() string { return "resolver_memberships" }

// Resolver stores user and group linkages in a SQL database.
type Resolver struct {
	db *gorm.DB
}

// New opens the configured database, migrates the resolver schema and
// returns the resolver.
func New(cfg *database.Config) (*Resolver, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing GORM handle, running schema migration.
func NewWithDB(db *gorm.DB) (*Resolver, error) {
	err := db.AutoMigrate(&userRow{}, &userPartitionRow{}, &groupRow{}, &groupPartitionRow{}, &membershipRow{})
	if err != nil {
		return nil, fmt.Errorf("failed to run resolver migration: %w", err)
	}
	return &Resolver{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Resolver) Close() error { return database.Close(r.db) }

// IsUserExists reports whether a linkage exists for the user ID.
func (r *Resolver) IsUserExists(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Count(&count).Error
	return count > 0, err
}

// IsGroupExists reports whether a linkage exists for the group ID.
func (r *Resolver) IsGroupExists(ctx context.Context, groupID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&groupRow{}).Where("id = ?", groupID).Count(&count).Error
	return count > 0, err
}

// GetUniqueUser returns the user's linkage.
func (r *Resolver) GetUniqueUser(ctx context.Context, userID string) (resolver.UniqueUser, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&row).Error; err != nil {
		return resolver.UniqueUser{}, database.ConvertNotFoundError(err, resolver.ErrUserNotFound)
	}
	return r.assembleUser(ctx, userID)
}

// GetUniqueUserFromConnectorUserID returns the user owning the partition.
func (r *Resolver) GetUniqueUserFromConnectorUserID(ctx context.Context, connectorUserID, connectorID string) (resolver.UniqueUser, error) {
	var part userPartitionRow
	err := r.db.WithContext(ctx).
		Where("connector_id = ? AND connector_local_id = ?", connectorID, connectorUserID).
		First(&part).Error
	if err != nil {
		return resolver.UniqueUser{}, database.ConvertNotFoundError(err, resolver.ErrUserNotFound)
	}
	return r.assembleUser(ctx, part.UserID)
}

// GetUniqueUsers resolves partitions in input order, skipping unknowns.
func (r *Resolver) GetUniqueUsers(ctx context.Context, connectorUserIDs []string, connectorID string) ([]resolver.UniqueUser, error) {
	users := make([]resolver.UniqueUser, 0, len(connectorUserIDs))
	for _, localID := range connectorUserIDs {
		u, err := r.GetUniqueUserFromConnectorUserID(ctx, localID, connectorID)
		if err != nil {
			if errors.Is(err, resolver.ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// ListUsers returns linkages in insertion order honoring offset and length.
func (r *Resolver) ListUsers(ctx context.Context, offset, length int) ([]resolver.UniqueUser, error) {
	if length == 0 {
		return []resolver.UniqueUser{}, nil
	}
	var rows []userRow
	err := r.db.WithContext(ctx).Order("seq").Offset(offset).Limit(length).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	users := make([]resolver.UniqueUser, 0, len(rows))
	for _, row := range rows {
		u, err := r.assembleUser(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// GetUniqueGroup returns the group's linkage.
func (r *Resolver) GetUniqueGroup(ctx context.Context, groupID string) (resolver.UniqueGroup, error) {
	var row groupRow
	if err := r.db.WithContext(ctx).Where("id = ?", groupID).First(&row).Error; err != nil {
		return resolver.UniqueGroup{}, database.ConvertNotFoundError(err, resolver.ErrGroupNotFound)
	}
	return r.assembleGroup(ctx, groupID)
}

// GetUniqueGroupFromConnectorGroupID returns the group owning the partition.
func (r *Resolver) GetUniqueGroupFromConnectorGroupID(ctx context.Context, connectorGroupID, connectorID string) (resolver.UniqueGroup, error) {
	var part groupPartitionRow
	err := r.db.WithContext(ctx).
		Where("connector_id = ? AND connector_local_id = ?", connectorID, connectorGroupID).
		First(&part).Error
	if err != nil {
		return resolver.UniqueGroup{}, database.ConvertNotFoundError(err, resolver.ErrGroupNotFound)
	}
	return r.assembleGroup(ctx, part.GroupID)
}

// GetUniqueGroups resolves group partitions in input order, skipping
// unknowns.
func (r *Resolver) GetUniqueGroups(ctx context.Context, connectorGroupIDs []string, connectorID string) ([]resolver.UniqueGroup, error) {
	groups := make([]resolver.UniqueGroup, 0, len(connectorGroupIDs))
	for _, localID := range connectorGroupIDs {
		g, err := r.GetUniqueGroupFromConnectorGroupID(ctx, localID, connectorID)
		if err != nil {
			if errors.Is(err, resolver.ErrGroupNotFound) {
				continue
			}
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// ListGroups returns group linkages in insertion order.
func (r *Resolver) ListGroups(ctx context.Context, offset, length int) ([]resolver.UniqueGroup, error) {
	if length == 0 {
		return []resolver.UniqueGroup{}, nil
	}
	var rows []groupRow
	err := r.db.WithContext(ctx).Order("seq").Offset(offset).Limit(length).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	groups := make([]resolver.UniqueGroup, 0, len(rows))
	for _, row := range rows {
		g, err := r.assembleGroup(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// GetGroupsOfUser returns the groups the user is a member of.
func (r *Resolver) GetGroupsOfUser(ctx context.Context, userID string) ([]resolver.UniqueGroup, error) {
	if exists, err := r.IsUserExists(ctx, userID); err != nil {
		return nil, err
	} else if !exists {
		return nil, resolver.ErrUserNotFound
	}

	var groupIDs []string
	err := r.db.WithContext(ctx).Model(&membershipRow{}).
		Where("user_id = ?", userID).
		Order("group_id").
		Pluck("group_id", &groupIDs).Error
	if err != nil {
		return nil, err
	}
	groups := make([]resolver.UniqueGroup, 0, len(groupIDs))
	for _, id := range groupIDs {
		g, err := r.assembleGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// GetUsersOfGroup returns the group's members.
func (r *Resolver) GetUsersOfGroup(ctx context.Context, groupID string) ([]resolver.UniqueUser, error) {
	if exists, err := r.IsGroupExists(ctx, groupID); err != nil {
		return nil, err
	} else if !exists {
		return nil, resolver.ErrGroupNotFound
	}

	var userIDs []string
	err := r.db.WithContext(ctx).Model(&membershipRow{}).
		Where("group_id = ?", groupID).
		Order("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	users := make([]resolver.UniqueUser, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := r.assembleUser(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// IsUserInGroup reports membership.
func (r *Resolver) IsUserInGroup(ctx context.Context, userID, groupID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&membershipRow{}).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		Count(&count).Error
	return count > 0, err
}

// AddUser records a new linkage.
func (r *Resolver) AddUser(ctx context.Context, user resolver.UniqueUser, domainName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertUser(tx, user, domainName)
	})
}

// AddUsers records linkages in one transaction.
func (r *Resolver) AddUsers(ctx context.Context, users []resolver.UniqueUser, domainName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range users {
			if err := insertUser(tx, u, domainName); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertUser(tx *gorm.DB, user resolver.UniqueUser, domainName string) error {
	if err := tx.Create(&userRow{ID: user.ID, Domain: domainName}).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return resolver.ErrDuplicateUser
		}
		return err
	}
	for _, p := range user.Partitions {
		row := userPartitionRow{
			UserID:           user.ID,
			ConnectorID:      p.ConnectorID,
			ConnectorLocalID: p.ConnectorLocalID,
			IsIdentityStore:  p.IsIdentityStore,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpdateUser replaces the user's identity-store partitions. Credential
// partitions are left untouched.
func (r *Resolver) UpdateUser(ctx context.Context, userID string, connectorUserIDs map[string]string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row userRow
		if err := tx.Where("id = ?", userID).First(&row).Error; err != nil {
			return database.ConvertNotFoundError(err, resolver.ErrUserNotFound)
		}
		err := tx.Where("user_id = ? AND is_identity_store = ?", userID, true).
			Delete(&userPartitionRow{}).Error
		if err != nil {
			return err
		}
		for _, connectorID := range sortedKeys(connectorUserIDs) {
			row := userPartitionRow{
				UserID:           userID,
				ConnectorID:      connectorID,
				ConnectorLocalID: connectorUserIDs[connectorID],
				IsIdentityStore:  true,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteUser removes the linkage and the user's membership edges.
func (r *Resolver) DeleteUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", userID).Delete(&userRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return resolver.ErrUserNotFound
		}
		if err := tx.Where("user_id = ?", userID).Delete(&userPartitionRow{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&membershipRow{}).Error
	})
}

// AddGroup records a new group linkage.
func (r *Resolver) AddGroup(ctx context.Context, group resolver.UniqueGroup, domainName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertGroup(tx, group, domainName)
	})
}

// AddGroups records group linkages in one transaction.
func (r *Resolver) AddGroups(ctx context.Context, groups []resolver.UniqueGroup, domainName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, g := range groups {
			if err := insertGroup(tx, g, domainName); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertGroup(tx *gorm.DB, group resolver.UniqueGroup, domainName string) error {
	if err := tx.Create(&groupRow{ID: group.ID, Domain: domainName}).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return resolver.ErrDuplicateGroup
		}
		return err
	}
	for _, p := range group.Partitions {
		row := groupPartitionRow{
			GroupID:          group.ID,
			ConnectorID:      p.ConnectorID,
			ConnectorLocalID: p.ConnectorLocalID,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpdateGroup replaces the group's partitions.
func (r *Resolver) UpdateGroup(ctx context.Context, groupID string, connectorGroupIDs map[string]string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row groupRow
		if err := tx.Where("id = ?", groupID).First(&row).Error; err != nil {
			return database.ConvertNotFoundError(err, resolver.ErrGroupNotFound)
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&groupPartitionRow{}).Error; err != nil {
			return err
		}
		for _, connectorID := range sortedKeys(connectorGroupIDs) {
			row := groupPartitionRow{
				GroupID:          groupID,
				ConnectorID:      connectorID,
				ConnectorLocalID: connectorGroupIDs[connectorID],
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteGroup removes the group linkage and its membership edges.
func (r *Resolver) DeleteGroup(ctx context.Context, groupID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", groupID).Delete(&groupRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return resolver.ErrGroupNotFound
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&groupPartitionRow{}).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", groupID).Delete(&membershipRow{}).Error
	})
}

// UpdateGroupsOfUser replaces the user's membership edges.
func (r *Resolver) UpdateGroupsOfUser(ctx context.Context, userID string, groupIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row userRow
		if err := tx.Where("id = ?", userID).First(&row).Error; err != nil {
			return database.ConvertNotFoundError(err, resolver.ErrUserNotFound)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&membershipRow{}).Error; err != nil {
			return err
		}
		for _, groupID := range groupIDs {
			if err := tx.Create(&membershipRow{UserID: userID, GroupID: groupID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateUsersOfGroup replaces the group's membership edges.
func (r *Resolver) UpdateUsersOfGroup(ctx context.Context, groupID string, userIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row groupRow
		if err := tx.Where("id = ?", groupID).First(&row).Error; err != nil {
			return database.ConvertNotFoundError(err, resolver.ErrGroupNotFound)
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&membershipRow{}).Error; err != nil {
			return err
		}
		for _, userID := range userIDs {
			if err := tx.Create(&membershipRow{UserID: userID, GroupID: groupID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Resolver) assembleUser(ctx context.Context, userID string) (resolver.UniqueUser, error) {
	var parts []userPartitionRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&parts).Error
	if err != nil {
		return resolver.UniqueUser{}, err
	}
	u := resolver.UniqueUser{ID: userID}
	for _, p := range parts {
		u.Partitions = append(u.Partitions, resolver.UserPartition{
			ConnectorID:      p.ConnectorID,
			ConnectorLocalID: p.ConnectorLocalID,
			IsIdentityStore:  p.IsIdentityStore,
		})
	}
	return u, nil
}

func (r *Resolver) assembleGroup(ctx context.Context, groupID string) (resolver.UniqueGroup, error) {
	var parts []groupPartitionRow
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id").Find(&parts).Error
	if err != nil {
		return resolver.UniqueGroup{}, err
	}
	g := resolver.UniqueGroup{ID: groupID}
	for _, p := range parts {
		g.Partitions = append(g.Partitions, resolver.GroupPartition{
			ConnectorID:      p.ConnectorID,
			ConnectorLocalID: p.ConnectorLocalID,
		})
	}
	return g, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ resolver.UniqueIDResolver = (*Resolver)(nil)
