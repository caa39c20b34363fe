package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/store"
)

// GroupHandler handles group management API endpoints.
type GroupHandler struct {
	store    *store.VirtualStore
	profiles *claim.ProfileSet
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(s *store.VirtualStore, profiles *claim.ProfileSet) *GroupHandler {
	return &GroupHandler{store: s, profiles: profiles}
}

// GroupResponse is the API representation of a group handle.
type GroupResponse struct {
	ID     string        `json:"id"`
	Domain string        `json:"domain"`
	Claims []claim.Claim `json:"claims,omitempty"`
}

// CreateGroupRequest is the request body for POST /api/v1/groups.
type CreateGroupRequest struct {
	Claims []claim.Claim `json:"claims"`
	Domain string        `json:"domain,omitempty"`
}

// UpdateMembersRequest is the request body for PUT /api/v1/groups/{groupID}/members.
type UpdateMembersRequest struct {
	UserIDs []string `json:"user_ids"`
	Domain  string   `json:"domain,omitempty"`
}

// Create handles POST /api/v1/groups.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	claims := normalizeClaims(req.Claims)
	if err := h.profiles.ValidateUpdate(claims); err != nil {
		UnprocessableEntity(w, err.Error())
		return
	}

	group, err := h.store.AddGroup(r.Context(), store.GroupModel{Claims: claims}, req.Domain)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteJSONCreated(w, GroupResponse{ID: group.ID(), Domain: group.DomainName()})
}

// List handles GET /api/v1/groups.
// Supports the same filter parameters as the user listing.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, length, ok := parsePaging(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	domainName := q.Get("domain")
	claimURI := q.Get("claim_uri")
	value := q.Get("value")
	pattern := q.Get("pattern")

	var groups []store.Group
	var err error
	switch {
	case claimURI != "" && pattern != "":
		mc := claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: claimURI}
		groups, err = h.store.ListGroupsByMetaClaim(r.Context(), mc, pattern, offset, length, domainName)
	case claimURI != "":
		groups, err = h.store.ListGroupsByClaim(r.Context(), claim.NewClaim(claimURI, value), offset, length, domainName)
	case value != "" || pattern != "":
		BadRequest(w, "value and pattern filters require claim_uri")
		return
	default:
		groups, err = h.store.ListGroups(r.Context(), offset, length, domainName)
	}
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

// Get handles GET /api/v1/groups/{groupID}.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	group, err := h.store.GetGroup(r.Context(), groupID, r.URL.Query().Get("domain"))
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	claims, err := group.Claims(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteJSONOK(w, GroupResponse{ID: group.ID(), Domain: group.DomainName(), Claims: claims})
}

// UpdateClaims handles PUT /api/v1/groups/{groupID}/claims.
func (h *GroupHandler) UpdateClaims(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req UpdateClaimsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	claims := normalizeClaims(req.Claims)
	if err := h.profiles.ValidateUpdate(claims); err != nil {
		UnprocessableEntity(w, err.Error())
		return
	}

	if err := h.store.UpdateGroupClaims(r.Context(), groupID, claims, req.Domain); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}

// Delete handles DELETE /api/v1/groups/{groupID}.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	if err := h.store.DeleteGroup(r.Context(), groupID, r.URL.Query().Get("domain")); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}

// Members handles GET /api/v1/groups/{groupID}/members.
func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	users, err := h.store.GetUsersOfGroup(r.Context(), groupID, r.URL.Query().Get("domain"))
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

// UpdateMembers handles PUT /api/v1/groups/{groupID}/members.
// The supplied list replaces the group's membership.
func (h *GroupHandler) UpdateMembers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req UpdateMembersRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.store.UpdateUsersOfGroup(r.Context(), groupID, req.UserIDs, req.Domain); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}
