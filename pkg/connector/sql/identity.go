// Package sql implements the identity-store connector contract on a
// relational database through GORM. Both SQLite and PostgreSQL are supported
// via pkg/database.
package sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/database"
)

const (
	ownerKindUser  = "user"
	ownerKindGroup = "group"
)

// entityRow is a user or group partition held by this connector.
type entityRow struct {
	ID        string `gorm:"primaryKey"`
	OwnerKind string `gorm:"index:idx_entity_kind"`
}

func (entityRow) TableName() string { return "identity_entities" }

// attributeRow is one attribute of an entity.
type attributeRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID   string `gorm:"index:idx_attr_owner"`
	OwnerKind string `gorm:"index:idx_attr_lookup"`
	Name      string `gorm:"index:idx_attr_lookup"`
	Value     string `gorm:"index:idx_attr_lookup"`
}

func (attributeRow) TableName() string { return "identity_attributes" }

// IdentityConnector stores user and group attribute partitions in a SQL
// database. Safe for concurrent use; the database serializes writes.
type IdentityConnector struct {
	id string
	db *gorm.DB
}

// New opens the configured database, migrates the connector schema and
// returns the connector.
func New(id string, cfg *database.Config) (*IdentityConnector, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDB(id, db)
}

// NewWithDB wraps an existing GORM handle, running schema migration.
func NewWithDB(id string, db *gorm.DB) (*IdentityConnector, error) {
	if id == "" {
		return nil, fmt.Errorf("connector ID is required")
	}
	if err := db.AutoMigrate(&entityRow{}, &attributeRow{}); err != nil {
		return nil, fmt.Errorf("failed to run connector migration: %w", err)
	}
	return &IdentityConnector{id: id, db: db}, nil
}

// ID returns the connector ID.
func (c *IdentityConnector) ID() string { return c.id }

// Close closes the underlying database connection.
func (c *IdentityConnector) Close() error { return database.Close(c.db) }

// AddUser stores the attributes as a new user partition.
func (c *IdentityConnector) AddUser(ctx context.Context, attrs []claim.Attribute) (string, error) {
	return c.addEntity(ctx, ownerKindUser, attrs)
}

// AddUsers stores a batch of user partitions in one transaction, keyed by the
// caller's correlation keys.
func (c *IdentityConnector) AddUsers(ctx context.Context, attrs map[string][]claim.Attribute) (map[string]string, error) {
	return c.addEntities(ctx, ownerKindUser, attrs)
}

// UpdateUserAttributes replaces the partition's attributes. The partition
// keeps its ID.
func (c *IdentityConnector) UpdateUserAttributes(ctx context.Context, userID string, attrs []claim.Attribute) (string, error) {
	return c.updateEntity(ctx, ownerKindUser, userID, attrs, connector.ErrUserNotFound)
}

// GetConnectorUserID returns the ID of the user whose attribute equals value.
func (c *IdentityConnector) GetConnectorUserID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	return c.findEntity(ctx, ownerKindUser, attributeName, attributeValue, connector.ErrUserNotFound)
}

// ListConnectorUserIDs returns IDs of users whose attribute equals value.
func (c *IdentityConnector) ListConnectorUserIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	return c.listEntities(ctx, ownerKindUser, attributeName, attributeValue, false, offset, length)
}

// ListConnectorUserIDsByPattern returns IDs of users whose attribute matches
// the glob pattern.
func (c *IdentityConnector) ListConnectorUserIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	return c.listEntities(ctx, ownerKindUser, attributeName, globToLike(pattern), true, offset, length)
}

// GetUserAttributeValues returns the partition's attributes, optionally
// restricted to the given names.
func (c *IdentityConnector) GetUserAttributeValues(ctx context.Context, userID string, attributeNames ...string) ([]claim.Attribute, error) {
	return c.entityAttributes(ctx, ownerKindUser, userID, attributeNames, connector.ErrUserNotFound)
}

// RemoveAddedUsersInAFailure deletes the user partitions if present.
// Idempotent; used for compensation after partial write failures.
func (c *IdentityConnector) RemoveAddedUsersInAFailure(ctx context.Context, userIDs []string) error {
	return c.removeEntities(ctx, ownerKindUser, userIDs)
}

// DeleteUser removes the user partition.
// Returns connector.ErrUserNotFound when the partition does not exist.
func (c *IdentityConnector) DeleteUser(ctx context.Context, userID string) error {
	return c.deleteEntity(ctx, ownerKindUser, userID, connector.ErrUserNotFound)
}

// AddGroup stores the attributes as a new group partition.
func (c *IdentityConnector) AddGroup(ctx context.Context, attrs []claim.Attribute) (string, error) {
	return c.addEntity(ctx, ownerKindGroup, attrs)
}

// AddGroups stores a batch of group partitions in one transaction.
func (c *IdentityConnector) AddGroups(ctx context.Context, attrs map[string][]claim.Attribute) (map[string]string, error) {
	return c.addEntities(ctx, ownerKindGroup, attrs)
}

// UpdateGroupAttributes replaces the group partition's attributes.
func (c *IdentityConnector) UpdateGroupAttributes(ctx context.Context, groupID string, attrs []claim.Attribute) (string, error) {
	return c.updateEntity(ctx, ownerKindGroup, groupID, attrs, connector.ErrGroupNotFound)
}

// GetConnectorGroupID returns the ID of the group whose attribute equals
// value.
func (c *IdentityConnector) GetConnectorGroupID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	return c.findEntity(ctx, ownerKindGroup, attributeName, attributeValue, connector.ErrGroupNotFound)
}

// ListConnectorGroupIDs returns IDs of groups whose attribute equals value.
func (c *IdentityConnector) ListConnectorGroupIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	return c.listEntities(ctx, ownerKindGroup, attributeName, attributeValue, false, offset, length)
}

// ListConnectorGroupIDsByPattern returns IDs of groups whose attribute
// matches the glob pattern.
func (c *IdentityConnector) ListConnectorGroupIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	return c.listEntities(ctx, ownerKindGroup, attributeName, globToLike(pattern), true, offset, length)
}

// GetGroupAttributeValues returns the group partition's attributes.
func (c *IdentityConnector) GetGroupAttributeValues(ctx context.Context, groupID string, attributeNames ...string) ([]claim.Attribute, error) {
	return c.entityAttributes(ctx, ownerKindGroup, groupID, attributeNames, connector.ErrGroupNotFound)
}

// RemoveAddedGroupsInAFailure deletes the group partitions if present.
func (c *IdentityConnector) RemoveAddedGroupsInAFailure(ctx context.Context, groupIDs []string) error {
	return c.removeEntities(ctx, ownerKindGroup, groupIDs)
}

// DeleteGroup removes the group partition.
// Returns connector.ErrGroupNotFound when the partition does not exist.
func (c *IdentityConnector) DeleteGroup(ctx context.Context, groupID string) error {
	return c.deleteEntity(ctx, ownerKindGroup, groupID, connector.ErrGroupNotFound)
}

func (c *IdentityConnector) addEntity(ctx context.Context, kind string, attrs []claim.Attribute) (string, error) {
	id := uuid.NewString()
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertEntity(tx, kind, id, attrs)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *IdentityConnector) addEntities(ctx context.Context, kind string, attrs map[string][]claim.Attribute) (map[string]string, error) {
	ids := make(map[string]string, len(attrs))
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, entityAttrs := range attrs {
			id := uuid.NewString()
			if err := insertEntity(tx, kind, id, entityAttrs); err != nil {
				return err
			}
			ids[key] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func insertEntity(tx *gorm.DB, kind, id string, attrs []claim.Attribute) error {
	if err := tx.Create(&entityRow{ID: id, OwnerKind: kind}).Error; err != nil {
		return err
	}
	for _, a := range attrs {
		row := attributeRow{OwnerID: id, OwnerKind: kind, Name: a.Name, Value: a.Value}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (c *IdentityConnector) updateEntity(ctx context.Context, kind, id string, attrs []claim.Attribute, notFoundErr error) (string, error) {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entityRow
		if err := tx.Where("id = ? AND owner_kind = ?", id, kind).First(&row).Error; err != nil {
			return database.ConvertNotFoundError(err, notFoundErr)
		}
		if err := tx.Where("owner_id = ? AND owner_kind = ?", id, kind).Delete(&attributeRow{}).Error; err != nil {
			return err
		}
		for _, a := range attrs {
			row := attributeRow{OwnerID: id, OwnerKind: kind, Name: a.Name, Value: a.Value}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *IdentityConnector) findEntity(ctx context.Context, kind, attributeName, attributeValue string, notFoundErr error) (string, error) {
	var row attributeRow
	err := c.db.WithContext(ctx).
		Where("owner_kind = ? AND name = ? AND value = ?", kind, attributeName, attributeValue).
		Order("owner_id").
		First(&row).Error
	if err != nil {
		return "", database.ConvertNotFoundError(err, notFoundErr)
	}
	return row.OwnerID, nil
}

func (c *IdentityConnector) listEntities(ctx context.Context, kind, attributeName, value string, pattern bool, offset, length int) ([]string, error) {
	if length == 0 {
		return []string{}, nil
	}

	q := c.db.WithContext(ctx).
		Model(&attributeRow{}).
		Where("owner_kind = ? AND name = ?", kind, attributeName)
	if pattern {
		q = q.Where("value LIKE ? ESCAPE '\\'", value)
	} else {
		q = q.Where("value = ?", value)
	}

	var ids []string
	err := q.Distinct("owner_id").
		Order("owner_id").
		Offset(offset).
		Limit(length).
		Pluck("owner_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *IdentityConnector) entityAttributes(ctx context.Context, kind, id string, names []string, notFoundErr error) ([]claim.Attribute, error) {
	var row entityRow
	err := c.db.WithContext(ctx).Where("id = ? AND owner_kind = ?", id, kind).First(&row).Error
	if err != nil {
		return nil, database.ConvertNotFoundError(err, notFoundErr)
	}

	q := c.db.WithContext(ctx).Where("owner_id = ? AND owner_kind = ?", id, kind)
	if len(names) > 0 {
		q = q.Where("name IN ?", names)
	}

	var rows []attributeRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	attrs := make([]claim.Attribute, 0, len(rows))
	for _, r := range rows {
		attrs = append(attrs, claim.Attribute{Name: r.Name, Value: r.Value})
	}
	return attrs, nil
}

func (c *IdentityConnector) removeEntities(ctx context.Context, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id IN ? AND owner_kind = ?", ids, kind).Delete(&attributeRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ? AND owner_kind = ?", ids, kind).Delete(&entityRow{}).Error
	})
}

func (c *IdentityConnector) deleteEntity(ctx context.Context, kind, id string, notFoundErr error) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner_kind = ?", id, kind).Delete(&entityRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return notFoundErr
		}
		return tx.Where("owner_id = ? AND owner_kind = ?", id, kind).Delete(&attributeRow{}).Error
	})
}

// globToLike translates a shell glob into a SQL LIKE pattern. Literal LIKE
// metacharacters are backslash-escaped; queries pass an explicit ESCAPE
// clause so SQLite and PostgreSQL agree.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ connector.IdentityStoreConnector = (*IdentityConnector)(nil)
