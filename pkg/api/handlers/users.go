package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/store"
)

// UserHandler handles user management API endpoints.
type UserHandler struct {
	store    *store.VirtualStore
	profiles *claim.ProfileSet
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(s *store.VirtualStore, profiles *claim.ProfileSet) *UserHandler {
	return &UserHandler{store: s, profiles: profiles}
}

// UserResponse is the API representation of a user handle.
type UserResponse struct {
	ID     string        `json:"id"`
	Domain string        `json:"domain"`
	Claims []claim.Claim `json:"claims,omitempty"`
	Groups []string      `json:"groups,omitempty"`
}

// CreateUserRequest is the request body for POST /api/v1/users.
type CreateUserRequest struct {
	Claims   []claim.Claim `json:"claims"`
	Password string        `json:"password,omitempty"`
	Domain   string        `json:"domain,omitempty"`
}

// CreateUsersRequest is the request body for POST /api/v1/users/bulk.
// All users land in the same domain in one pass.
type CreateUsersRequest struct {
	Users  []CreateUserRequest `json:"users"`
	Domain string              `json:"domain,omitempty"`
}

// UpdateClaimsRequest is the request body for PUT claim updates.
type UpdateClaimsRequest struct {
	Claims []claim.Claim `json:"claims"`
	Domain string        `json:"domain,omitempty"`
}

// UpdateGroupsRequest is the request body for PUT /api/v1/users/{userID}/groups.
type UpdateGroupsRequest struct {
	GroupIDs []string `json:"group_ids"`
	Domain   string   `json:"domain,omitempty"`
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	model, ok := h.userModel(w, req)
	if !ok {
		return
	}

	user, err := h.store.AddUser(r.Context(), model, req.Domain)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteJSONCreated(w, UserResponse{ID: user.ID(), Domain: user.DomainName()})
}

// CreateBulk handles POST /api/v1/users/bulk.
func (h *UserHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	var req CreateUsersRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Users) == 0 {
		BadRequest(w, "At least one user is required")
		return
	}

	models := make([]store.UserModel, 0, len(req.Users))
	for _, entry := range req.Users {
		model, ok := h.userModel(w, entry)
		if !ok {
			return
		}
		models = append(models, model)
	}

	users, err := h.store.AddUsers(r.Context(), models, req.Domain)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	response := make([]UserResponse, len(users))
	for i, u := range users {
		response[i] = UserResponse{ID: u.ID(), Domain: u.DomainName()}
	}
	WriteJSONCreated(w, response)
}

// userModel validates a create request against the claim profiles and builds
// the store model.
func (h *UserHandler) userModel(w http.ResponseWriter, req CreateUserRequest) (store.UserModel, bool) {
	claims, err := h.profiles.ValidateCreate(normalizeClaims(req.Claims))
	if err != nil {
		UnprocessableEntity(w, err.Error())
		return store.UserModel{}, false
	}

	model := store.UserModel{Claims: claims}
	if req.Password != "" {
		model.Credentials = []connector.Credential{
			connector.PasswordCredential{Password: req.Password},
		}
	}
	return model, true
}

// List handles GET /api/v1/users.
//
// Query parameters:
//   - offset, length: paging window
//   - domain: target domain (empty means primary)
//   - claim_uri + value: filter by exact claim value
//   - claim_uri + pattern: filter by glob pattern (* and ?)
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, length, ok := parsePaging(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	domainName := q.Get("domain")
	claimURI := q.Get("claim_uri")
	value := q.Get("value")
	pattern := q.Get("pattern")

	var users []store.User
	var err error
	switch {
	case claimURI != "" && pattern != "":
		mc := claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: claimURI}
		users, err = h.store.ListUsersByMetaClaim(r.Context(), mc, pattern, offset, length, domainName)
	case claimURI != "":
		users, err = h.store.ListUsersByClaim(r.Context(), claim.NewClaim(claimURI, value), offset, length, domainName)
	case value != "" || pattern != "":
		BadRequest(w, "value and pattern filters require claim_uri")
		return
	default:
		users, err = h.store.ListUsers(r.Context(), offset, length, domainName)
	}
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	response := make([]UserResponse, len(users))
	for i, u := range users {
		response[i] = UserResponse{ID: u.ID(), Domain: u.DomainName()}
	}
	WriteJSONOK(w, response)
}

// Get handles GET /api/v1/users/{userID}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := h.store.GetUser(r.Context(), userID, r.URL.Query().Get("domain"))
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	claims, err := user.Claims(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteJSONOK(w, UserResponse{ID: user.ID(), Domain: user.DomainName(), Claims: claims})
}

// UpdateClaims handles PUT /api/v1/users/{userID}/claims.
func (h *UserHandler) UpdateClaims(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req UpdateClaimsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	claims := normalizeClaims(req.Claims)
	if err := h.profiles.ValidateUpdate(claims); err != nil {
		UnprocessableEntity(w, err.Error())
		return
	}

	if err := h.store.UpdateUserClaims(r.Context(), userID, claims, req.Domain); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}

// Delete handles DELETE /api/v1/users/{userID}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.store.DeleteUser(r.Context(), userID, r.URL.Query().Get("domain")); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}

// Groups handles GET /api/v1/users/{userID}/groups.
func (h *UserHandler) Groups(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	groups, err := h.store.GetGroupsOfUser(r.Context(), userID, r.URL.Query().Get("domain"))
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	response := make([]GroupResponse, len(groups))
	for i, g := range groups {
		response[i] = GroupResponse{ID: g.ID(), Domain: g.DomainName()}
	}
	WriteJSONOK(w, response)
}

// UpdateGroups handles PUT /api/v1/users/{userID}/groups.
// The supplied list replaces the user's memberships.
func (h *UserHandler) UpdateGroups(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req UpdateGroupsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.store.UpdateGroupsOfUser(r.Context(), userID, req.GroupIDs, req.Domain); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}
