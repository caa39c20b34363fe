package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fedid/fedid/pkg/api/auth"
	"github.com/fedid/fedid/pkg/api/handlers"
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	connmem "github.com/fedid/fedid/pkg/connector/memory"
	"github.com/fedid/fedid/pkg/domain"
	resmem "github.com/fedid/fedid/pkg/resolver/memory"
	"github.com/fedid/fedid/pkg/store"
)

const (
	testSecret   = "test-secret-key-for-testing-only-32chars"
	testEmailURI = "http://wso2.org/claims/emailaddress"
)

// newTestStore builds a single-domain virtual store on memory backends.
func newTestStore(t *testing.T) *store.VirtualStore {
	t.Helper()

	ic := connmem.NewIdentityConnector("IC1")
	cc := connmem.NewCredentialConnector("CC1")
	mappings := []claim.MetaClaimMapping{
		{
			MetaClaim:     claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: claim.UsernameURI},
			ConnectorID:   "IC1",
			AttributeName: "attr_username",
			Unique:        true,
		},
		{
			MetaClaim:     claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: testEmailURI},
			ConnectorID:   "IC1",
			AttributeName: "attr_email",
			Unique:        true,
		},
	}

	d, err := domain.New("PRIMARY", 10,
		[]connector.IdentityStoreConnector{ic},
		[]connector.CredentialStoreConnector{cc},
		mappings, resmem.New())
	if err != nil {
		t.Fatalf("failed to build domain: %v", err)
	}
	registry, err := domain.NewRegistry(d)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	s, err := store.New(registry)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return s
}

// newTestRouter builds the full router with the given claim profiles.
func newTestRouter(t *testing.T, s *store.VirtualStore, profiles []claim.Profile) http.Handler {
	t.Helper()

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("failed to build JWT service: %v", err)
	}
	set, err := claim.NewProfileSet(profiles)
	if err != nil {
		t.Fatalf("failed to build profile set: %v", err)
	}
	return NewRouter(s, jwtService, set)
}

// addTestUser creates a user with username, email and password directly in the store.
func addTestUser(t *testing.T, s *store.VirtualStore, username, email, password string) store.User {
	t.Helper()

	u, err := s.AddUser(context.Background(), store.UserModel{
		Claims: []claim.Claim{
			claim.NewClaim(claim.UsernameURI, username),
			claim.NewClaim(testEmailURI, email),
		},
		Credentials: []connector.Credential{connector.PasswordCredential{Password: password}},
	}, "")
	if err != nil {
		t.Fatalf("failed to add user %s: %v", username, err)
	}
	return u
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}

// login authenticates and returns the access token.
func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", handlers.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[handlers.LoginResponse](t, rec)
	if resp.AccessToken == "" {
		t.Fatal("login returned empty access token")
	}
	return resp.AccessToken
}

func TestLoginAndMe(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)
	u := addTestUser(t, s, "alice", "alice@example.com", "s3cret")

	token := login(t, h, "alice", "s3cret")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me returned %d: %s", rec.Code, rec.Body.String())
	}
	me := decodeBody[handlers.UserResponse](t, rec)
	if me.ID != u.ID() {
		t.Errorf("me ID = %q, want %q", me.ID, u.ID())
	}
	if me.Domain != "PRIMARY" {
		t.Errorf("me Domain = %q, want PRIMARY", me.Domain)
	}
	if len(me.Claims) != 2 {
		t.Errorf("me returned %d claims, want 2", len(me.Claims))
	}
}

func TestLoginFailures(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)
	addTestUser(t, s, "alice", "alice@example.com", "s3cret")

	tests := []struct {
		name string
		req  handlers.LoginRequest
		want int
	}{
		{"wrong password", handlers.LoginRequest{Username: "alice", Password: "nope"}, http.StatusUnauthorized},
		{"unknown user", handlers.LoginRequest{Username: "bob", Password: "s3cret"}, http.StatusUnauthorized},
		{"missing password", handlers.LoginRequest{Username: "alice"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", tt.req)
			if rec.Code != tt.want {
				t.Errorf("login returned %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestLoginByEmailClaim(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)
	addTestUser(t, s, "alice", "alice@example.com", "s3cret")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", handlers.LoginRequest{
		ClaimURI: testEmailURI,
		Username: "alice@example.com",
		Password: "s3cret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login by email returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefresh(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)
	u := addTestUser(t, s, "alice", "alice@example.com", "s3cret")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", handlers.LoginRequest{
		Username: "alice", Password: "s3cret",
	})
	resp := decodeBody[handlers.LoginResponse](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", "", handlers.RefreshRequest{
		RefreshToken: resp.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", rec.Code, rec.Body.String())
	}

	// A deleted user cannot refresh.
	if err := s.DeleteUser(context.Background(), u.ID(), ""); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", "", handlers.RefreshRequest{
		RefreshToken: resp.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after delete returned %d, want 401", rec.Code)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/users", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list returned %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token list returned %d, want 401", rec.Code)
	}
}

func TestUserLifecycleOverHTTP(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)
	addTestUser(t, s, "admin", "admin@example.com", "s3cret")
	token := login(t, h, "admin", "s3cret")

	// Create.
	rec := doJSON(t, h, http.MethodPost, "/api/v1/users", token, handlers.CreateUserRequest{
		Claims: []claim.Claim{
			{ClaimURI: claim.UsernameURI, Value: "bob"},
			{ClaimURI: testEmailURI, Value: "bob@example.com"},
		},
		Password: "hunter2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[handlers.UserResponse](t, rec)

	// Get with claims.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[handlers.UserResponse](t, rec)
	if len(got.Claims) != 2 {
		t.Errorf("get returned %d claims, want 2", len(got.Claims))
	}

	// The new user can log in.
	login(t, h, "bob", "hunter2")

	// List filtered by claim value.
	rec = doJSON(t, h, http.MethodGet,
		"/api/v1/users?claim_uri="+claim.UsernameURI+"&value=bob", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered list returned %d: %s", rec.Code, rec.Body.String())
	}
	if listed := decodeBody[[]handlers.UserResponse](t, rec); len(listed) != 1 || listed[0].ID != created.ID {
		t.Errorf("filtered list = %+v, want single %s", listed, created.ID)
	}

	// List by pattern.
	rec = doJSON(t, h, http.MethodGet,
		"/api/v1/users?claim_uri="+claim.UsernameURI+"&pattern=*", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pattern list returned %d: %s", rec.Code, rec.Body.String())
	}
	if listed := decodeBody[[]handlers.UserResponse](t, rec); len(listed) != 2 {
		t.Errorf("pattern list returned %d users, want 2", len(listed))
	}

	// Update claims.
	rec = doJSON(t, h, http.MethodPut, "/api/v1/users/"+created.ID+"/claims", token,
		handlers.UpdateClaimsRequest{Claims: []claim.Claim{
			{ClaimURI: claim.UsernameURI, Value: "bob"},
			{ClaimURI: testEmailURI, Value: "bob@corp.example.com"},
		}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update claims returned %d: %s", rec.Code, rec.Body.String())
	}

	// Delete.
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/users/"+created.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/"+created.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete returned %d, want 404", rec.Code)
	}
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)
	admin := addTestUser(t, s, "admin", "admin@example.com", "s3cret")
	token := login(t, h, "admin", "s3cret")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/groups", token, handlers.CreateGroupRequest{
		Claims: []claim.Claim{{ClaimURI: claim.UsernameURI, Value: "engineers"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create group returned %d: %s", rec.Code, rec.Body.String())
	}
	group := decodeBody[handlers.GroupResponse](t, rec)

	rec = doJSON(t, h, http.MethodPut, "/api/v1/groups/"+group.ID+"/members", token,
		handlers.UpdateMembersRequest{UserIDs: []string{admin.ID()}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update members returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/groups/"+group.ID+"/members", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("members returned %d: %s", rec.Code, rec.Body.String())
	}
	if members := decodeBody[[]handlers.UserResponse](t, rec); len(members) != 1 || members[0].ID != admin.ID() {
		t.Errorf("members = %+v, want single %s", members, admin.ID())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/"+admin.ID()+"/groups", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user groups returned %d: %s", rec.Code, rec.Body.String())
	}
	if groups := decodeBody[[]handlers.GroupResponse](t, rec); len(groups) != 1 || groups[0].ID != group.ID {
		t.Errorf("user groups = %+v, want single %s", groups, group.ID)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/groups/"+group.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete group returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/groups/"+group.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete returned %d, want 404", rec.Code)
	}
}

func TestClaimProfileEnforcement(t *testing.T) {
	s := newTestStore(t)
	profiles := []claim.Profile{
		{ClaimURI: claim.UsernameURI, Required: true},
		{ClaimURI: testEmailURI, Regex: `^[^@]+@[^@]+$`, ReadOnly: true, DefaultValue: "nobody@example.com"},
	}
	h := newTestRouter(t, s, profiles)
	addTestUser(t, s, "admin", "admin@example.com", "s3cret")
	token := login(t, h, "admin", "s3cret")

	// Missing required username claim.
	rec := doJSON(t, h, http.MethodPost, "/api/v1/users", token, handlers.CreateUserRequest{
		Claims: []claim.Claim{{ClaimURI: testEmailURI, Value: "x@y"}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("create without required claim returned %d, want 422", rec.Code)
	}

	// Regex violation.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/users", token, handlers.CreateUserRequest{
		Claims: []claim.Claim{
			{ClaimURI: claim.UsernameURI, Value: "carol"},
			{ClaimURI: testEmailURI, Value: "not-an-email"},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("create with bad email returned %d, want 422", rec.Code)
	}

	// Default value injection: no email submitted, profile default lands.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/users", token, handlers.CreateUserRequest{
		Claims: []claim.Claim{{ClaimURI: claim.UsernameURI, Value: "carol"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[handlers.UserResponse](t, rec)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/"+created.ID, token, nil)
	got := decodeBody[handlers.UserResponse](t, rec)
	found := false
	for _, c := range got.Claims {
		if c.ClaimURI == testEmailURI && c.Value == "nobody@example.com" {
			found = true
		}
	}
	if !found {
		t.Errorf("default email claim missing from %+v", got.Claims)
	}

	// Read-only claim cannot be updated.
	rec = doJSON(t, h, http.MethodPut, "/api/v1/users/"+created.ID+"/claims", token,
		handlers.UpdateClaimsRequest{Claims: []claim.Claim{{ClaimURI: testEmailURI, Value: "new@example.com"}}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("update of read-only claim returned %d, want 422", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)

	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("liveness returned %d, want 200", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readiness returned %d, want 200", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/health/domains", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("domains returned %d, want 200", rec.Code)
	}
}

func TestProblemContentType(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)
	addTestUser(t, s, "admin", "admin@example.com", "s3cret")
	token := login(t, h, "admin", "s3cret")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/users/missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing user returned %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != handlers.ContentTypeProblemJSON {
		t.Errorf("Content-Type = %q, want %q", ct, handlers.ContentTypeProblemJSON)
	}
}

func TestServerLifecycle(t *testing.T) {
	s := newTestStore(t)
	h := newTestRouter(t, s, nil)

	cfg := Config{Port: 18080}
	server := NewServer(cfg, h)

	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()

	// Give the server time to start.
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", server.Port()))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Expected nil on graceful shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shutdown in time")
	}
}

func TestServerDefaults(t *testing.T) {
	server := NewServer(Config{}, http.NotFoundHandler())
	if server.Port() != 8080 {
		t.Errorf("Expected default port 8080, got %d", server.Port())
	}
}
