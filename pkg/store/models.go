package store

import (
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
)

// UserModel is the write-path shape of a user: the claims to spread across
// identity connectors and the credentials to hand to credential connectors.
type UserModel struct {
	Claims      []claim.Claim
	Credentials []connector.Credential
}

// GroupModel is the write-path shape of a group. Groups carry no credentials.
type GroupModel struct {
	Claims []claim.Claim
}

// usernameClaim returns the username claim value, or "" if absent or empty.
func usernameClaim(claims []claim.Claim) string {
	for _, c := range claims {
		if c.ClaimURI == claim.UsernameURI {
			return c.Value
		}
	}
	return ""
}
