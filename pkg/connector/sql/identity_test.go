//go:build integration

package sql

import (
	"context"
	"errors"
	"testing"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/database"
)

// createTestConnector creates an in-memory SQLite connector for testing.
func createTestConnector(t *testing.T) *IdentityConnector {
	t.Helper()
	c, err := New("IC-sql", &database.Config{
		Type:   database.TypeSQLite,
		SQLite: database.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test connector: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	c := createTestConnector(t)

	id, err := c.AddUser(ctx, []claim.Attribute{
		{Name: "attr_uid", Value: "alice"},
		{Name: "attr_mail", Value: "a@x"},
	})
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if id == "" {
		t.Fatal("AddUser() returned empty ID")
	}

	got, err := c.GetConnectorUserID(ctx, "attr_uid", "alice")
	if err != nil {
		t.Fatalf("GetConnectorUserID() error = %v", err)
	}
	if got != id {
		t.Errorf("GetConnectorUserID() = %q, want %q", got, id)
	}

	attrs, err := c.GetUserAttributeValues(ctx, id)
	if err != nil {
		t.Fatalf("GetUserAttributeValues() error = %v", err)
	}
	if len(attrs) != 2 {
		t.Fatalf("GetUserAttributeValues() = %d attributes, want 2", len(attrs))
	}

	filtered, err := c.GetUserAttributeValues(ctx, id, "attr_mail")
	if err != nil {
		t.Fatalf("GetUserAttributeValues(filtered) error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].Value != "a@x" {
		t.Errorf("GetUserAttributeValues(attr_mail) = %v, want single a@x", filtered)
	}

	newID, err := c.UpdateUserAttributes(ctx, id, []claim.Attribute{{Name: "attr_uid", Value: "alice2"}})
	if err != nil {
		t.Fatalf("UpdateUserAttributes() error = %v", err)
	}
	if newID != id {
		t.Errorf("UpdateUserAttributes() rekeyed %q to %q", id, newID)
	}
	if _, err := c.GetConnectorUserID(ctx, "attr_mail", "a@x"); !errors.Is(err, connector.ErrUserNotFound) {
		t.Errorf("old attribute survived update: error = %v, want ErrUserNotFound", err)
	}

	if err := c.DeleteUser(ctx, id); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if err := c.DeleteUser(ctx, id); !errors.Is(err, connector.ErrUserNotFound) {
		t.Errorf("DeleteUser(deleted) error = %v, want ErrUserNotFound", err)
	}
}

func TestBulkAndListing(t *testing.T) {
	ctx := context.Background()
	c := createTestConnector(t)

	batch := map[string][]claim.Attribute{
		"k1": {{Name: "attr_dept", Value: "eng"}, {Name: "attr_uid", Value: "u1"}},
		"k2": {{Name: "attr_dept", Value: "eng"}, {Name: "attr_uid", Value: "u2"}},
		"k3": {{Name: "attr_dept", Value: "ops"}, {Name: "attr_uid", Value: "u3"}},
	}
	ids, err := c.AddUsers(ctx, batch)
	if err != nil {
		t.Fatalf("AddUsers() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("AddUsers() returned %d IDs, want 3", len(ids))
	}
	for key := range batch {
		if ids[key] == "" {
			t.Errorf("AddUsers() missing ID for key %q", key)
		}
	}

	eng, err := c.ListConnectorUserIDs(ctx, "attr_dept", "eng", 0, 10)
	if err != nil {
		t.Fatalf("ListConnectorUserIDs() error = %v", err)
	}
	if len(eng) != 2 {
		t.Errorf("ListConnectorUserIDs(eng) = %d IDs, want 2", len(eng))
	}

	paged, err := c.ListConnectorUserIDs(ctx, "attr_dept", "eng", 1, 10)
	if err != nil {
		t.Fatalf("ListConnectorUserIDs(offset 1) error = %v", err)
	}
	if len(paged) != 1 {
		t.Errorf("ListConnectorUserIDs(offset 1) = %d IDs, want 1", len(paged))
	}

	matched, err := c.ListConnectorUserIDsByPattern(ctx, "attr_uid", "u*", 0, 10)
	if err != nil {
		t.Fatalf("ListConnectorUserIDsByPattern() error = %v", err)
	}
	if len(matched) != 3 {
		t.Errorf("ListConnectorUserIDsByPattern(u*) = %d IDs, want 3", len(matched))
	}

	single, err := c.ListConnectorUserIDsByPattern(ctx, "attr_uid", "u?", 0, 10)
	if err != nil {
		t.Fatalf("ListConnectorUserIDsByPattern(u?) error = %v", err)
	}
	if len(single) != 3 {
		t.Errorf("ListConnectorUserIDsByPattern(u?) = %d IDs, want 3", len(single))
	}
}

func TestCompensationRemoval(t *testing.T) {
	ctx := context.Background()
	c := createTestConnector(t)

	id, err := c.AddUser(ctx, []claim.Attribute{{Name: "attr_uid", Value: "doomed"}})
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	if err := c.RemoveAddedUsersInAFailure(ctx, []string{id, "never-existed"}); err != nil {
		t.Fatalf("RemoveAddedUsersInAFailure() error = %v", err)
	}
	if _, err := c.GetUserAttributeValues(ctx, id); !errors.Is(err, connector.ErrUserNotFound) {
		t.Errorf("partition survived compensation: error = %v, want ErrUserNotFound", err)
	}

	// Second run over the same IDs must be a no-op.
	if err := c.RemoveAddedUsersInAFailure(ctx, []string{id}); err != nil {
		t.Errorf("RemoveAddedUsersInAFailure(repeat) error = %v", err)
	}
}

func TestGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	c := createTestConnector(t)

	id, err := c.AddGroup(ctx, []claim.Attribute{{Name: "attr_group", Value: "admins"}})
	if err != nil {
		t.Fatalf("AddGroup() error = %v", err)
	}

	got, err := c.GetConnectorGroupID(ctx, "attr_group", "admins")
	if err != nil {
		t.Fatalf("GetConnectorGroupID() error = %v", err)
	}
	if got != id {
		t.Errorf("GetConnectorGroupID() = %q, want %q", got, id)
	}

	// Users and groups share tables but never cross kinds.
	if _, err := c.GetConnectorUserID(ctx, "attr_group", "admins"); !errors.Is(err, connector.ErrUserNotFound) {
		t.Errorf("group leaked into user lookup: error = %v, want ErrUserNotFound", err)
	}

	if err := c.DeleteGroup(ctx, id); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if _, err := c.GetGroupAttributeValues(ctx, id); !errors.Is(err, connector.ErrGroupNotFound) {
		t.Errorf("GetGroupAttributeValues(deleted) error = %v, want ErrGroupNotFound", err)
	}
}

func TestGlobToLike(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"*", "%"},
		{"u?", "u_"},
		{"a*b?c", "a%b_c"},
		{"100%", "100\\%"},
		{"a_b", "a\\_b"},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := globToLike(tt.pattern); got != tt.want {
			t.Errorf("globToLike(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}
