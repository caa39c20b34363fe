package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs from the
// virtual store, connectors and resolvers can be aggregated and queried.
const (
	// ========================================================================
	// Request correlation
	// ========================================================================
	KeyTraceID   = "trace_id"   // Trace ID for request correlation
	KeyRequestID = "request_id" // Per-request identifier (API middleware)

	// ========================================================================
	// Identity operations
	// ========================================================================
	KeyOperation = "operation" // Store operation: addUser, authenticate, etc.
	KeyDomain    = "domain"    // Identity domain name
	KeyConnector = "connector" // Connector ID within a domain
	KeyResolver  = "resolver"  // Unique-id resolver backend name

	// ========================================================================
	// Subjects
	// ========================================================================
	KeyUserID      = "user_id"      // Domain-unique user ID
	KeyGroupID     = "group_id"     // Domain-unique group ID
	KeyConnectorID = "connector_id" // Connector-local entity ID
	KeyClaimURI    = "claim_uri"    // Claim URI
	KeyDialectURI  = "dialect_uri"  // Claim dialect URI
	KeyAttribute   = "attribute"    // Connector attribute name

	// ========================================================================
	// Client identification (API layer)
	// ========================================================================
	KeyClientIP = "client_ip" // Client IP address
	KeyUsername = "username"  // Username claim value

	// ========================================================================
	// Batch operations
	// ========================================================================
	KeyCount   = "count"   // Number of entities in a batch
	KeyOffset  = "offset"  // Paging offset
	KeyLength  = "length"  // Paging length
	KeyPattern = "pattern" // Filter pattern for list operations

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyStoreType  = "store_type"  // Backend type: memory, sqlite, postgres, badger
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the request trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// RequestID returns a slog.Attr for the per-request identifier
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Operation returns a slog.Attr for the store operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Domain returns a slog.Attr for the identity domain name
func Domain(name string) slog.Attr {
	return slog.String(KeyDomain, name)
}

// Connector returns a slog.Attr for a connector ID
func Connector(id string) slog.Attr {
	return slog.String(KeyConnector, id)
}

// Resolver returns a slog.Attr for the resolver backend name
func Resolver(name string) slog.Attr {
	return slog.String(KeyResolver, name)
}

// UserID returns a slog.Attr for a domain-unique user ID
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// GroupID returns a slog.Attr for a domain-unique group ID
func GroupID(id string) slog.Attr {
	return slog.String(KeyGroupID, id)
}

// ConnectorID returns a slog.Attr for a connector-local entity ID
func ConnectorID(id string) slog.Attr {
	return slog.String(KeyConnectorID, id)
}

// ClaimURI returns a slog.Attr for a claim URI
func ClaimURI(uri string) slog.Attr {
	return slog.String(KeyClaimURI, uri)
}

// DialectURI returns a slog.Attr for a claim dialect URI
func DialectURI(uri string) slog.Attr {
	return slog.String(KeyDialectURI, uri)
}

// Attribute returns a slog.Attr for a connector attribute name
func Attribute(name string) slog.Attr {
	return slog.String(KeyAttribute, name)
}

// ClientIP returns a slog.Attr for the client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Username returns a slog.Attr for a username claim value
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Count returns a slog.Attr for a batch size
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Offset returns a slog.Attr for a paging offset
func Offset(off int) slog.Attr {
	return slog.Int(KeyOffset, off)
}

// Length returns a slog.Attr for a paging length
func Length(n int) slog.Attr {
	return slog.Int(KeyLength, n)
}

// Pattern returns a slog.Attr for a list filter pattern
func Pattern(p string) slog.Attr {
	return slog.String(KeyPattern, p)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// StoreType returns a slog.Attr for a backend type
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}
