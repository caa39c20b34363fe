// Package auth provides JWT authentication for the fedid API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType indicates whether a token is an access token or refresh token.
type TokenType string

const (
	// TokenTypeAccess is a short-lived token used for API authorization.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a long-lived token used to obtain new access tokens.
	TokenTypeRefresh TokenType = "refresh"
)

// Identity is the subject a token is issued for.
type Identity struct {
	// UserID is the store-wide unique user ID.
	UserID string

	// Username is the value of the username claim at login time.
	Username string

	// Domain is the name of the domain that authenticated the user.
	Domain string
}

// Claims represents JWT claims for fedid authentication.
//
// Tokens carry the store-wide user ID and the owning domain so API handlers
// can address the user without re-resolving the login claim.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the store-wide unique user ID.
	UserID string `json:"uid"`

	// Username is the human-readable username.
	Username string `json:"username"`

	// Domain is the name of the domain that owns the user.
	Domain string `json:"domain"`

	// TokenType indicates whether this is an access or refresh token.
	TokenType TokenType `json:"token_type"`
}

// IsAccessToken returns true if this is an access token.
func (c *Claims) IsAccessToken() bool {
	return c.TokenType == TokenTypeAccess
}

// IsRefreshToken returns true if this is a refresh token.
func (c *Claims) IsRefreshToken() bool {
	return c.TokenType == TokenTypeRefresh
}

// Identity returns the subject carried by the claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Username: c.Username, Domain: c.Domain}
}
