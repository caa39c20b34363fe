package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fedid/fedid/pkg/claim"
)

// defaultPageLength caps list responses when the client does not ask for a
// specific page size.
const defaultPageLength = 100

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// parsePaging reads offset and length query parameters.
// Returns false after writing a 400 response when a parameter is malformed.
func parsePaging(w http.ResponseWriter, r *http.Request) (offset, length int, ok bool) {
	offset, ok = parseIntParam(w, r, "offset", 0)
	if !ok {
		return 0, 0, false
	}
	length, ok = parseIntParam(w, r, "length", defaultPageLength)
	if !ok {
		return 0, 0, false
	}
	return offset, length, true
}

func parseIntParam(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		BadRequest(w, "Invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

// normalizeClaims fills in the default dialect on claims submitted without one.
func normalizeClaims(claims []claim.Claim) []claim.Claim {
	for i := range claims {
		if claims[i].DialectURI == "" {
			claims[i].DialectURI = claim.DefaultDialectURI
		}
	}
	return claims
}
