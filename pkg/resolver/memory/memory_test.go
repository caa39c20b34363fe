package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/fedid/fedid/pkg/resolver"
)

func testUser(id string, partitions ...resolver.UserPartition) resolver.UniqueUser {
	return resolver.UniqueUser{ID: id, Partitions: partitions}
}

func TestResolverUserLinkage(t *testing.T) {
	ctx := context.Background()
	r := New()

	user := testUser("u-1",
		resolver.UserPartition{ConnectorID: "IC1", ConnectorLocalID: "ic1-u-1", IsIdentityStore: true},
		resolver.UserPartition{ConnectorID: "CC1", ConnectorLocalID: "cc1-c-1"},
	)
	if err := r.AddUser(ctx, user, "PRIMARY"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := r.AddUser(ctx, user, "PRIMARY"); !errors.Is(err, resolver.ErrDuplicateUser) {
		t.Errorf("AddUser(duplicate) error = %v, want ErrDuplicateUser", err)
	}

	exists, err := r.IsUserExists(ctx, "u-1")
	if err != nil || !exists {
		t.Errorf("IsUserExists() = %v, %v, want true, nil", exists, err)
	}

	got, err := r.GetUniqueUserFromConnectorUserID(ctx, "ic1-u-1", "IC1")
	if err != nil {
		t.Fatalf("GetUniqueUserFromConnectorUserID() error = %v", err)
	}
	if got.ID != "u-1" {
		t.Errorf("GetUniqueUserFromConnectorUserID() ID = %q, want %q", got.ID, "u-1")
	}

	if _, err := r.GetUniqueUserFromConnectorUserID(ctx, "ic1-u-1", "IC2"); !errors.Is(err, resolver.ErrUserNotFound) {
		t.Errorf("wrong connector lookup error = %v, want ErrUserNotFound", err)
	}
}

func TestResolverUpdateUserKeepsCredentialPartitions(t *testing.T) {
	ctx := context.Background()
	r := New()

	user := testUser("u-1",
		resolver.UserPartition{ConnectorID: "IC1", ConnectorLocalID: "old", IsIdentityStore: true},
		resolver.UserPartition{ConnectorID: "CC1", ConnectorLocalID: "cred-1"},
	)
	if err := r.AddUser(ctx, user, "PRIMARY"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	if err := r.UpdateUser(ctx, "u-1", map[string]string{"IC1": "new", "IC2": "extra"}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	got, err := r.GetUniqueUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetUniqueUser() error = %v", err)
	}
	identity := got.IdentityPartitions()
	if identity["IC1"] != "new" || identity["IC2"] != "extra" {
		t.Errorf("identity partitions = %v, want IC1->new, IC2->extra", identity)
	}
	creds := got.CredentialPartitions()
	if len(creds) != 1 || creds[0].ConnectorLocalID != "cred-1" {
		t.Errorf("credential partitions = %v, want the original cred-1", creds)
	}

	if err := r.UpdateUser(ctx, "missing", nil); !errors.Is(err, resolver.ErrUserNotFound) {
		t.Errorf("UpdateUser(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestResolverGetUniqueUsersOrderAndSkips(t *testing.T) {
	ctx := context.Background()
	r := New()

	for _, n := range []string{"a", "b", "c"} {
		u := testUser("u-"+n, resolver.UserPartition{ConnectorID: "IC1", ConnectorLocalID: "ic1-" + n, IsIdentityStore: true})
		if err := r.AddUser(ctx, u, "PRIMARY"); err != nil {
			t.Fatalf("AddUser(%s) error = %v", n, err)
		}
	}

	got, err := r.GetUniqueUsers(ctx, []string{"ic1-c", "ic1-missing", "ic1-a"}, "IC1")
	if err != nil {
		t.Fatalf("GetUniqueUsers() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "u-c" || got[1].ID != "u-a" {
		t.Errorf("GetUniqueUsers() = %v, want [u-c u-a]", got)
	}
}

func TestResolverListUsersPaging(t *testing.T) {
	ctx := context.Background()
	r := New()

	for _, n := range []string{"1", "2", "3"} {
		if err := r.AddUser(ctx, testUser("u-"+n), "PRIMARY"); err != nil {
			t.Fatalf("AddUser(%s) error = %v", n, err)
		}
	}

	tests := []struct {
		name           string
		offset, length int
		want           []string
	}{
		{"all", 0, 10, []string{"u-1", "u-2", "u-3"}},
		{"window", 1, 1, []string{"u-2"}},
		{"zero length", 0, 0, nil},
		{"offset past end", 5, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ListUsers(ctx, tt.offset, tt.length)
			if err != nil {
				t.Fatalf("ListUsers() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListUsers() returned %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("ListUsers()[%d] = %q, want %q", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestResolverMembership(t *testing.T) {
	ctx := context.Background()
	r := New()

	if err := r.AddUser(ctx, testUser("u-1"), "PRIMARY"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	for _, g := range []string{"g-1", "g-2"} {
		if err := r.AddGroup(ctx, resolver.UniqueGroup{ID: g}, "PRIMARY"); err != nil {
			t.Fatalf("AddGroup(%s) error = %v", g, err)
		}
	}

	if err := r.UpdateGroupsOfUser(ctx, "u-1", []string{"g-1", "g-2"}); err != nil {
		t.Fatalf("UpdateGroupsOfUser() error = %v", err)
	}

	in, err := r.IsUserInGroup(ctx, "u-1", "g-1")
	if err != nil || !in {
		t.Errorf("IsUserInGroup(u-1, g-1) = %v, %v, want true, nil", in, err)
	}

	groups, err := r.GetGroupsOfUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetGroupsOfUser() error = %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("GetGroupsOfUser() returned %d groups, want 2", len(groups))
	}

	// Shrinking the edge set drops the removed group.
	if err := r.UpdateUsersOfGroup(ctx, "g-2", nil); err != nil {
		t.Fatalf("UpdateUsersOfGroup() error = %v", err)
	}
	in, err = r.IsUserInGroup(ctx, "u-1", "g-2")
	if err != nil || in {
		t.Errorf("IsUserInGroup(u-1, g-2) after removal = %v, %v, want false, nil", in, err)
	}

	members, err := r.GetUsersOfGroup(ctx, "g-1")
	if err != nil {
		t.Fatalf("GetUsersOfGroup() error = %v", err)
	}
	if len(members) != 1 || members[0].ID != "u-1" {
		t.Errorf("GetUsersOfGroup(g-1) = %v, want [u-1]", members)
	}
}

func TestResolverDeleteUser(t *testing.T) {
	ctx := context.Background()
	r := New()

	if err := r.AddUser(ctx, testUser("u-1"), "PRIMARY"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := r.AddGroup(ctx, resolver.UniqueGroup{ID: "g-1"}, "PRIMARY"); err != nil {
		t.Fatalf("AddGroup() error = %v", err)
	}
	if err := r.UpdateGroupsOfUser(ctx, "u-1", []string{"g-1"}); err != nil {
		t.Fatalf("UpdateGroupsOfUser() error = %v", err)
	}

	if err := r.DeleteUser(ctx, "u-1"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if err := r.DeleteUser(ctx, "u-1"); !errors.Is(err, resolver.ErrUserNotFound) {
		t.Errorf("DeleteUser(gone) error = %v, want ErrUserNotFound", err)
	}

	members, err := r.GetUsersOfGroup(ctx, "g-1")
	if err != nil {
		t.Fatalf("GetUsersOfGroup() error = %v", err)
	}
	if len(members) != 0 {
		t.Errorf("GetUsersOfGroup() after DeleteUser = %v, want empty", members)
	}
}
