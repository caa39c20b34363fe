package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/fedid/fedid/pkg/api/auth"
	"github.com/fedid/fedid/pkg/api/middleware"
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/store"
)

// AuthHandler handles authentication-related API endpoints.
type AuthHandler struct {
	store      *store.VirtualStore
	jwtService *auth.JWTService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *store.VirtualStore, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{store: s, jwtService: jwtService}
}

// LoginRequest is the request body for POST /api/v1/auth/login.
//
// ClaimURI selects the login claim and defaults to the username claim; any
// claim mapped as unique in the target domain works, an email address for
// example. Domain pins the login to one domain; when empty all domains are
// tried in priority order.
type LoginRequest struct {
	ClaimURI string `json:"claim_uri,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain,omitempty"`
}

// LoginResponse is the response body for POST /api/v1/auth/login.
type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         UserResponse `json:"user"`
}

// RefreshRequest is the request body for POST /api/v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /api/v1/auth/login.
// Authenticates user credentials and returns a JWT token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	claimURI := req.ClaimURI
	if claimURI == "" {
		claimURI = claim.UsernameURI
	}

	ac, err := h.store.Authenticate(r.Context(),
		claim.NewClaim(claimURI, req.Username),
		connector.PasswordCredential{Password: req.Password},
		req.Domain,
	)
	if err != nil {
		if store.IsKind(err, store.KindAuthentication) {
			Unauthorized(w, "Invalid credentials")
			return
		}
		WriteStoreError(w, err)
		return
	}

	identity := auth.Identity{
		UserID:   ac.User.ID(),
		Username: req.Username,
		Domain:   ac.User.DomainName(),
	}
	h.writeTokenResponse(w, identity)
}

// Refresh handles POST /api/v1/auth/refresh.
// Returns a new token pair using a valid refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.RefreshToken == "" {
		BadRequest(w, "Refresh token is required")
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			Unauthorized(w, "Refresh token has expired")
			return
		}
		Unauthorized(w, "Invalid refresh token")
		return
	}

	// The user must still exist; deleted users keep their tokens until
	// expiry but cannot refresh them.
	if _, err := h.store.GetUser(r.Context(), claims.UserID, claims.Domain); err != nil {
		if store.IsKind(err, store.KindUserNotFound) {
			Unauthorized(w, "User no longer exists")
			return
		}
		WriteStoreError(w, err)
		return
	}

	h.writeTokenResponse(w, claims.Identity())
}

// Me handles GET /api/v1/auth/me.
// Returns the current authenticated user with claims.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	user, err := h.store.GetUser(r.Context(), claims.UserID, claims.Domain)
	if err != nil {
		if store.IsKind(err, store.KindUserNotFound) {
			Unauthorized(w, "User no longer exists")
			return
		}
		WriteStoreError(w, err)
		return
	}

	userClaims, err := user.Claims(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteJSONOK(w, UserResponse{
		ID:     user.ID(),
		Domain: user.DomainName(),
		Claims: userClaims,
	})
}

func (h *AuthHandler) writeTokenResponse(w http.ResponseWriter, identity auth.Identity) {
	tokenPair, err := h.jwtService.GenerateTokenPair(identity)
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	WriteJSONOK(w, LoginResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		ExpiresAt:    tokenPair.ExpiresAt,
		User:         UserResponse{ID: identity.UserID, Domain: identity.Domain},
	})
}
