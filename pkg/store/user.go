package store

import (
	"context"

	"github.com/fedid/fedid/pkg/claim"
)

// User is a lightweight handle to a logical user. It caches nothing:
// attribute fetches re-enter the virtual store that issued it.
type User struct {
	id         string
	domainName string
	store      *VirtualStore
}

// ID returns the logical user ID.
func (u User) ID() string { return u.id }

// DomainName returns the name of the domain holding the user.
func (u User) DomainName() string { return u.domainName }

// Claims fetches the user's claims from the virtual store.
func (u User) Claims(ctx context.Context) ([]claim.Claim, error) {
	return u.store.GetClaims(ctx, u.id, u.domainName)
}

// ClaimsFiltered fetches the claims selected by the MetaClaim filter.
func (u User) ClaimsFiltered(ctx context.Context, metaClaims []claim.MetaClaim) ([]claim.Claim, error) {
	return u.store.GetClaimsFiltered(ctx, u.id, metaClaims, u.domainName)
}

// Groups fetches the groups the user is a member of.
func (u User) Groups(ctx context.Context) ([]Group, error) {
	return u.store.GetGroupsOfUser(ctx, u.id, u.domainName)
}

// Group is a lightweight handle to a logical group.
type Group struct {
	id         string
	domainName string
	store      *VirtualStore
}

// ID returns the logical group ID.
func (g Group) ID() string { return g.id }

// DomainName returns the name of the domain holding the group.
func (g Group) DomainName() string { return g.domainName }

// Claims fetches the group's claims from the virtual store.
func (g Group) Claims(ctx context.Context) ([]claim.Claim, error) {
	return g.store.GetGroupClaims(ctx, g.id, g.domainName)
}

// Users fetches the group's members.
func (g Group) Users(ctx context.Context) ([]User, error) {
	return g.store.GetUsersOfGroup(ctx, g.id, g.domainName)
}

// AuthenticationContext is the successful result of Authenticate.
type AuthenticationContext struct {
	User User
}
