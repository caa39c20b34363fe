package handlers

import (
	"net/http"
	"time"

	"github.com/fedid/fedid/pkg/domain"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the server ready to accept requests?
//   - Domain listing: Which domains are registered, in priority order?
type HealthHandler struct {
	registry *domain.Registry
}

// healthResponse is the body of every health endpoint.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func healthy(data any) healthResponse {
	return healthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthy(errMsg string) healthResponse {
	return healthResponse{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}

// NewHealthHandler creates a new health handler.
//
// The registry parameter may be nil, in which case the readiness check
// returns unhealthy status.
func NewHealthHandler(registry *domain.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthy(map[string]string{
		"service": "fedid",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK when the domain registry is populated, 503 Service
// Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil || h.registry.Len() == 0 {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthy("no domains registered"))
		return
	}

	primary, err := h.registry.PrimaryDomain()
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthy(err.Error()))
		return
	}

	WriteJSON(w, http.StatusOK, healthy(map[string]any{
		"domains": h.registry.Len(),
		"primary": primary.Name(),
	}))
}

// DomainStatus describes one registered domain.
type DomainStatus struct {
	Name                 string `json:"name"`
	Priority             int    `json:"priority"`
	IdentityConnectors   int    `json:"identity_connectors"`
	CredentialConnectors int    `json:"credential_connectors"`
	Mappings             int    `json:"mappings"`
}

// Domains handles GET /health/domains - registered domains in priority order.
func (h *HealthHandler) Domains(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthy("no domains registered"))
		return
	}

	domains := h.registry.Domains()
	response := make([]DomainStatus, len(domains))
	for i, d := range domains {
		response[i] = DomainStatus{
			Name:                 d.Name(),
			Priority:             d.Priority(),
			IdentityConnectors:   len(d.IdentityConnectors()),
			CredentialConnectors: len(d.CredentialConnectors()),
			Mappings:             len(d.MetaClaimMappings()),
		}
	}

	WriteJSON(w, http.StatusOK, healthy(response))
}
