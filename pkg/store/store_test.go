package store

import (
	"context"
	"errors"
	"testing"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	connmem "github.com/fedid/fedid/pkg/connector/memory"
	"github.com/fedid/fedid/pkg/domain"
	"github.com/fedid/fedid/pkg/resolver"
	resmem "github.com/fedid/fedid/pkg/resolver/memory"
)

const emailURI = "http://wso2.org/claims/emailaddress"

func mapping(claimURI, connectorID, attributeName string, unique bool) claim.MetaClaimMapping {
	return claim.MetaClaimMapping{
		MetaClaim:     claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: claimURI},
		ConnectorID:   connectorID,
		AttributeName: attributeName,
		Unique:        unique,
	}
}

// spyIdentity wraps the in-memory identity connector and records compensation
// calls plus the total number of connector invocations.
type spyIdentity struct {
	*connmem.IdentityConnector
	calls   int
	removed [][]string
}

func (s *spyIdentity) AddUser(ctx context.Context, attrs []claim.Attribute) (string, error) {
	s.calls++
	return s.IdentityConnector.AddUser(ctx, attrs)
}

func (s *spyIdentity) ListConnectorUserIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	s.calls++
	return s.IdentityConnector.ListConnectorUserIDs(ctx, attributeName, attributeValue, offset, length)
}

func (s *spyIdentity) GetUserAttributeValues(ctx context.Context, userID string, attributeNames ...string) ([]claim.Attribute, error) {
	s.calls++
	return s.IdentityConnector.GetUserAttributeValues(ctx, userID, attributeNames...)
}

func (s *spyIdentity) RemoveAddedUsersInAFailure(ctx context.Context, userIDs []string) error {
	s.calls++
	s.removed = append(s.removed, append([]string(nil), userIDs...))
	return s.IdentityConnector.RemoveAddedUsersInAFailure(ctx, userIDs)
}

// failingCredential rejects every write.
type failingCredential struct {
	id string
}

func (f *failingCredential) ID() string { return f.id }

func (f *failingCredential) CanStore(cred connector.Credential) bool {
	return cred != nil && cred.Type() == connector.TypePassword
}

func (f *failingCredential) CanHandle(bundle connector.Bundle) bool { return false }

func (f *failingCredential) AddCredential(context.Context, []connector.Credential) (string, error) {
	return "", errors.New("credential backend down")
}

func (f *failingCredential) UpdateCredentials(context.Context, string, []connector.Credential) (string, error) {
	return "", errors.New("credential backend down")
}

func (f *failingCredential) Authenticate(context.Context, connector.Bundle) error {
	return connector.ErrAuthenticationFailure
}

func (f *failingCredential) DeleteCredential(context.Context, string) error { return nil }

// vetoingCredential handles every password bundle and rejects it.
type vetoingCredential struct {
	id string
}

func (v *vetoingCredential) ID() string { return v.id }

func (v *vetoingCredential) CanStore(connector.Credential) bool { return false }

func (v *vetoingCredential) CanHandle(bundle connector.Bundle) bool {
	return bundle.Credential != nil && bundle.Credential.Type() == connector.TypePassword
}

func (v *vetoingCredential) AddCredential(context.Context, []connector.Credential) (string, error) {
	return "cred-1", nil
}

func (v *vetoingCredential) UpdateCredentials(context.Context, string, []connector.Credential) (string, error) {
	return "cred-1", nil
}

func (v *vetoingCredential) Authenticate(context.Context, connector.Bundle) error {
	return connector.ErrAuthenticationFailure
}

func (v *vetoingCredential) DeleteCredential(context.Context, string) error { return nil }

func newTestDomain(t *testing.T, name string, priority int, ic connector.IdentityStoreConnector, cc connector.CredentialStoreConnector, mappings []claim.MetaClaimMapping) *domain.Domain {
	t.Helper()
	var ccs []connector.CredentialStoreConnector
	if cc != nil {
		ccs = append(ccs, cc)
	}
	d, err := domain.New(name, priority, []connector.IdentityStoreConnector{ic}, ccs, mappings, resmem.New())
	if err != nil {
		t.Fatalf("domain.New(%s) error = %v", name, err)
	}
	return d
}

// newSingleDomainStore builds a store over one domain "A" with identity
// connector IC1 (username, email) and credential connector CC1.
func newSingleDomainStore(t *testing.T) *VirtualStore {
	t.Helper()
	d := newTestDomain(t, "A", 10,
		connmem.NewIdentityConnector("IC1"),
		connmem.NewCredentialConnector("CC1"),
		[]claim.MetaClaimMapping{
			mapping(claim.UsernameURI, "IC1", "attr_uid", true),
			mapping(emailURI, "IC1", "attr_mail", true),
		})
	reg, err := domain.NewRegistry(d)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func aliceModel() UserModel {
	return UserModel{
		Claims: []claim.Claim{
			claim.NewClaim(claim.UsernameURI, "alice"),
			claim.NewClaim(emailURI, "a@x"),
		},
		Credentials: []connector.Credential{
			connector.PasswordCredential{Password: "s3cret"},
		},
	}
}

func TestNewRequiresDomains(t *testing.T) {
	reg, err := domain.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	for _, tt := range []struct {
		name string
		reg  *domain.Registry
	}{
		{"nil registry", nil},
		{"empty registry", reg},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.reg)
			if !IsKind(err, KindConfig) {
				t.Fatalf("New() error = %v, want KindConfig", err)
			}
			if got := err.Error(); got != "No domains registered." {
				t.Errorf("New() error message = %q, want %q", got, "No domains registered.")
			}
		})
	}
}

func TestPrimaryDomainSelection(t *testing.T) {
	newDomain := func(name string) *domain.Domain {
		return newTestDomain(t, name, 10, connmem.NewIdentityConnector("IC-"+name), nil,
			[]claim.MetaClaimMapping{mapping(claim.UsernameURI, "IC-"+name, "attr_uid", true)})
	}
	reg, err := domain.NewRegistry(newDomain("A"), newDomain("B"))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	primary, err := s.Registry().PrimaryDomain()
	if err != nil {
		t.Fatalf("PrimaryDomain() error = %v", err)
	}
	if primary.Name() != "A" {
		t.Errorf("PrimaryDomain() = %q, want %q (first inserted at equal priority)", primary.Name(), "A")
	}

	// An empty domain name must route to the same primary.
	u, err := s.AddUser(context.Background(), UserModel{
		Claims: []claim.Claim{claim.NewClaim(claim.UsernameURI, "bob")},
	}, "")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if u.DomainName() != "A" {
		t.Errorf("AddUser() domain = %q, want %q", u.DomainName(), "A")
	}
}

func TestAddUserReadBack(t *testing.T) {
	ctx := context.Background()
	s := newSingleDomainStore(t)

	u, err := s.AddUser(ctx, aliceModel(), "A")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if u.ID() == "" {
		t.Fatal("AddUser() returned empty user ID")
	}

	got, err := s.GetUser(ctx, u.ID(), "A")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.ID() != u.ID() {
		t.Errorf("GetUser() ID = %q, want %q", got.ID(), u.ID())
	}

	claims, err := got.Claims(ctx)
	if err != nil {
		t.Fatalf("Claims() error = %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("Claims() returned %d claims, want 2: %v", len(claims), claims)
	}
	values := map[string]string{}
	for _, c := range claims {
		values[c.ClaimURI] = c.Value
	}
	if values[claim.UsernameURI] != "alice" {
		t.Errorf("username claim = %q, want %q", values[claim.UsernameURI], "alice")
	}
	if values[emailURI] != "a@x" {
		t.Errorf("email claim = %q, want %q", values[emailURI], "a@x")
	}
}

func TestAddUserCompensation(t *testing.T) {
	ctx := context.Background()
	spy := &spyIdentity{IdentityConnector: connmem.NewIdentityConnector("IC1")}
	d := newTestDomain(t, "A", 10, spy, &failingCredential{id: "CC1"},
		[]claim.MetaClaimMapping{
			mapping(claim.UsernameURI, "IC1", "attr_uid", true),
			mapping(emailURI, "IC1", "attr_mail", true),
		})
	reg, err := domain.NewRegistry(d)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = s.AddUser(ctx, aliceModel(), "A")
	if !IsKind(err, KindServer) {
		t.Fatalf("AddUser() error = %v, want KindServer", err)
	}

	if len(spy.removed) != 1 {
		t.Fatalf("RemoveAddedUsersInAFailure called %d times, want exactly 1", len(spy.removed))
	}
	if len(spy.removed[0]) != 1 {
		t.Fatalf("compensation removed %d partitions, want 1: %v", len(spy.removed[0]), spy.removed[0])
	}

	// The resolver must hold no linkage for the failed add.
	users, err := s.ListUsers(ctx, 0, 10, "A")
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(users) != 0 {
		t.Errorf("ListUsers() after failed add = %d users, want 0", len(users))
	}
}

func TestAuthenticateAcrossDomains(t *testing.T) {
	ctx := context.Background()

	// Domain A has no email mapping; domain B does and holds the user.
	domA := newTestDomain(t, "A", 10,
		connmem.NewIdentityConnector("ICA"),
		connmem.NewCredentialConnector("CCA"),
		[]claim.MetaClaimMapping{mapping(claim.UsernameURI, "ICA", "attr_uid", true)})
	domB := newTestDomain(t, "B", 20,
		connmem.NewIdentityConnector("ICB"),
		connmem.NewCredentialConnector("CCB"),
		[]claim.MetaClaimMapping{
			mapping(claim.UsernameURI, "ICB", "attr_uid", true),
			mapping(emailURI, "ICB", "attr_mail", true),
		})
	reg, err := domain.NewRegistry(domA, domB)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := s.AddUser(ctx, aliceModel(), "B"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	ac, err := s.Authenticate(ctx, claim.NewClaim(emailURI, "a@x"),
		connector.PasswordCredential{Password: "s3cret"}, "")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ac.User.DomainName() != "B" {
		t.Errorf("Authenticate() domain = %q, want %q", ac.User.DomainName(), "B")
	}

	t.Run("wrong password", func(t *testing.T) {
		_, err := s.Authenticate(ctx, claim.NewClaim(emailURI, "a@x"),
			connector.PasswordCredential{Password: "wrong"}, "")
		if !IsKind(err, KindAuthentication) {
			t.Errorf("Authenticate() error = %v, want KindAuthentication", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.Authenticate(ctx, claim.NewClaim(emailURI, "nobody@x"),
			connector.PasswordCredential{Password: "s3cret"}, "")
		if !IsKind(err, KindAuthentication) {
			t.Errorf("Authenticate() error = %v, want KindAuthentication", err)
		}
	})
}

func TestAuthenticateNonUniqueClaim(t *testing.T) {
	ctx := context.Background()
	d := newTestDomain(t, "A", 10,
		connmem.NewIdentityConnector("IC1"),
		connmem.NewCredentialConnector("CC1"),
		[]claim.MetaClaimMapping{
			mapping(claim.UsernameURI, "IC1", "attr_uid", true),
			mapping(emailURI, "IC1", "attr_mail", false),
		})
	reg, err := domain.NewRegistry(d)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := s.AddUser(ctx, aliceModel(), "A"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	_, err = s.Authenticate(ctx, claim.NewClaim(emailURI, "a@x"),
		connector.PasswordCredential{Password: "s3cret"}, "A")
	if !IsKind(err, KindAuthentication) {
		t.Errorf("Authenticate() with non-unique mapping error = %v, want KindAuthentication", err)
	}
}

// A user can end up with several credential partitions. The first partition
// whose connector handles the bundle decides: a rejection there must not be
// retried against later partitions.
func TestAuthenticateFirstHandlingPartitionDecides(t *testing.T) {
	ctx := context.Background()

	ic := connmem.NewIdentityConnector("IC1")
	veto := &vetoingCredential{id: "CC1"}
	cc2 := connmem.NewCredentialConnector("CC2")

	d, err := domain.New("A", 10,
		[]connector.IdentityStoreConnector{ic},
		[]connector.CredentialStoreConnector{veto, cc2},
		[]claim.MetaClaimMapping{mapping(claim.UsernameURI, "IC1", "attr_uid", true)},
		resmem.New())
	if err != nil {
		t.Fatalf("domain.New() error = %v", err)
	}
	reg, err := domain.NewRegistry(d)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	addUser := func(t *testing.T, username, userID string, credFirst bool) {
		t.Helper()
		connUID, err := ic.AddUser(ctx, []claim.Attribute{{Name: "attr_uid", Value: username}})
		if err != nil {
			t.Fatalf("AddUser() error = %v", err)
		}
		credID, err := cc2.AddCredential(ctx, []connector.Credential{
			connector.PasswordCredential{Password: "s3cret"},
		})
		if err != nil {
			t.Fatalf("AddCredential() error = %v", err)
		}
		partitions := []resolver.UserPartition{
			{ConnectorID: "IC1", ConnectorLocalID: connUID, IsIdentityStore: true},
			{ConnectorID: "CC1", ConnectorLocalID: "cred-1"},
			{ConnectorID: "CC2", ConnectorLocalID: credID},
		}
		if credFirst {
			partitions[1], partitions[2] = partitions[2], partitions[1]
		}
		if err := d.Resolver().AddUser(ctx, resolver.UniqueUser{ID: userID, Partitions: partitions}, "A"); err != nil {
			t.Fatalf("resolver AddUser() error = %v", err)
		}
	}

	// alice's first credential partition belongs to the vetoing connector.
	addUser(t, "alice", "u-alice", false)
	_, err = s.Authenticate(ctx, claim.NewClaim(claim.UsernameURI, "alice"),
		connector.PasswordCredential{Password: "s3cret"}, "A")
	if !IsKind(err, KindAuthentication) {
		t.Errorf("Authenticate() error = %v, want KindAuthentication from first handling partition", err)
	}

	// bob's partitions are reversed, so the accepting connector goes first.
	addUser(t, "bob", "u-bob", true)
	ac, err := s.Authenticate(ctx, claim.NewClaim(claim.UsernameURI, "bob"),
		connector.PasswordCredential{Password: "s3cret"}, "A")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ac.User.ID() != "u-bob" {
		t.Errorf("Authenticate() user = %q, want %q", ac.User.ID(), "u-bob")
	}
}

func TestListUsersZeroLength(t *testing.T) {
	ctx := context.Background()
	spy := &spyIdentity{IdentityConnector: connmem.NewIdentityConnector("IC1")}
	d := newTestDomain(t, "A", 10, spy, nil,
		[]claim.MetaClaimMapping{mapping(claim.UsernameURI, "IC1", "attr_uid", true)})
	reg, err := domain.NewRegistry(d)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	users, err := s.ListUsers(ctx, 5, 0, "A")
	if err != nil {
		t.Fatalf("ListUsers(offset, 0) error = %v", err)
	}
	if len(users) != 0 {
		t.Errorf("ListUsers(offset, 0) = %d users, want 0", len(users))
	}
	if spy.calls != 0 {
		t.Errorf("ListUsers(offset, 0) performed %d connector calls, want 0", spy.calls)
	}

	t.Run("negative bounds", func(t *testing.T) {
		if _, err := s.ListUsers(ctx, -1, 10, "A"); !IsKind(err, KindClient) {
			t.Errorf("ListUsers(-1, 10) error = %v, want KindClient", err)
		}
		if _, err := s.ListUsers(ctx, 0, -1, "A"); !IsKind(err, KindClient) {
			t.Errorf("ListUsers(0, -1) error = %v, want KindClient", err)
		}
	})
}

func TestUpdateUserClaimsIdempotent(t *testing.T) {
	ctx := context.Background()
	res := resmem.New()
	ic := connmem.NewIdentityConnector("IC1")
	cc := connmem.NewCredentialConnector("CC1")
	d, err := domain.New("A", 10,
		[]connector.IdentityStoreConnector{ic},
		[]connector.CredentialStoreConnector{cc},
		[]claim.MetaClaimMapping{
			mapping(claim.UsernameURI, "IC1", "attr_uid", true),
			mapping(emailURI, "IC1", "attr_mail", true),
		}, res)
	if err != nil {
		t.Fatalf("domain.New() error = %v", err)
	}
	reg, err := domain.NewRegistry(d)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	u, err := s.AddUser(ctx, aliceModel(), "A")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	before, err := res.GetUniqueUser(ctx, u.ID())
	if err != nil {
		t.Fatalf("GetUniqueUser() error = %v", err)
	}

	claims, err := s.GetClaims(ctx, u.ID(), "A")
	if err != nil {
		t.Fatalf("GetClaims() error = %v", err)
	}
	if err := s.UpdateUserClaims(ctx, u.ID(), claims, "A"); err != nil {
		t.Fatalf("UpdateUserClaims() error = %v", err)
	}

	after, err := res.GetUniqueUser(ctx, u.ID())
	if err != nil {
		t.Fatalf("GetUniqueUser() error = %v", err)
	}
	if len(after.Partitions) != len(before.Partitions) {
		t.Fatalf("linkage changed: %d partitions, want %d", len(after.Partitions), len(before.Partitions))
	}
	beforeIdentity := before.IdentityPartitions()
	for connectorID, localID := range after.IdentityPartitions() {
		if beforeIdentity[connectorID] != localID {
			t.Errorf("partition %s rekeyed to %q, want %q", connectorID, localID, beforeIdentity[connectorID])
		}
	}
}

func TestErrorKinds(t *testing.T) {
	ctx := context.Background()
	s := newSingleDomainStore(t)

	t.Run("unknown domain", func(t *testing.T) {
		_, err := s.GetUser(ctx, "some-id", "nope")
		if !IsKind(err, KindServer) {
			t.Errorf("GetUser(unknown domain) error = %v, want KindServer", err)
		}
	})

	t.Run("unmapped claim", func(t *testing.T) {
		_, err := s.GetUserByClaim(ctx, claim.NewClaim("http://wso2.org/claims/telephone", "555"), "A")
		if !IsKind(err, KindDomain) {
			t.Errorf("GetUserByClaim(unmapped) error = %v, want KindDomain", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.GetUser(ctx, "missing", "A")
		if !IsKind(err, KindUserNotFound) {
			t.Errorf("GetUser(missing) error = %v, want KindUserNotFound", err)
		}
	})

	t.Run("missing username claim", func(t *testing.T) {
		_, err := s.AddUser(ctx, UserModel{
			Claims: []claim.Claim{claim.NewClaim(emailURI, "a@x")},
		}, "A")
		if !IsKind(err, KindClient) {
			t.Errorf("AddUser(no username) error = %v, want KindClient", err)
		}
	})
}

func TestGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSingleDomainStore(t)

	g, err := s.AddGroup(ctx, GroupModel{
		Claims: []claim.Claim{claim.NewClaim(claim.UsernameURI, "admins")},
	}, "A")
	if err != nil {
		t.Fatalf("AddGroup() error = %v", err)
	}

	u, err := s.AddUser(ctx, aliceModel(), "A")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := s.UpdateGroupsOfUser(ctx, u.ID(), []string{g.ID()}, "A"); err != nil {
		t.Fatalf("UpdateGroupsOfUser() error = %v", err)
	}

	in, err := s.IsUserInGroup(ctx, u.ID(), g.ID(), "A")
	if err != nil {
		t.Fatalf("IsUserInGroup() error = %v", err)
	}
	if !in {
		t.Error("IsUserInGroup() = false after UpdateGroupsOfUser")
	}

	members, err := g.Users(ctx)
	if err != nil {
		t.Fatalf("Users() error = %v", err)
	}
	if len(members) != 1 || members[0].ID() != u.ID() {
		t.Errorf("Users() = %v, want exactly [%s]", members, u.ID())
	}

	claims, err := g.Claims(ctx)
	if err != nil {
		t.Fatalf("Claims() error = %v", err)
	}
	if len(claims) != 1 || claims[0].Value != "admins" {
		t.Errorf("group claims = %v, want single admins claim", claims)
	}

	if err := s.DeleteGroup(ctx, g.ID(), "A"); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if _, err := s.GetGroup(ctx, g.ID(), "A"); !IsKind(err, KindGroupNotFound) {
		t.Errorf("GetGroup(deleted) error = %v, want KindGroupNotFound", err)
	}
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	s := newSingleDomainStore(t)

	u, err := s.AddUser(ctx, aliceModel(), "A")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID(), "A"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if _, err := s.GetUser(ctx, u.ID(), "A"); !IsKind(err, KindUserNotFound) {
		t.Errorf("GetUser(deleted) error = %v, want KindUserNotFound", err)
	}

	// Credentials must be gone as well.
	_, err = s.Authenticate(ctx, claim.NewClaim(claim.UsernameURI, "alice"),
		connector.PasswordCredential{Password: "s3cret"}, "A")
	if !IsKind(err, KindAuthentication) {
		t.Errorf("Authenticate(deleted user) error = %v, want KindAuthentication", err)
	}
}
