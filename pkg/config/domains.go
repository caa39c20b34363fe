package config

import (
	"fmt"
	"io"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	connmem "github.com/fedid/fedid/pkg/connector/memory"
	connsql "github.com/fedid/fedid/pkg/connector/sql"
	"github.com/fedid/fedid/pkg/connector/vault"
	"github.com/fedid/fedid/pkg/database"
	"github.com/fedid/fedid/pkg/domain"
	"github.com/fedid/fedid/pkg/resolver"
	resmem "github.com/fedid/fedid/pkg/resolver/memory"
	ressql "github.com/fedid/fedid/pkg/resolver/sql"
)

// Backend type names accepted in connector and resolver configuration.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendVault  = "vault"
)

// DomainConfig declares one identity domain: its connectors, its claim
// mapping table and its resolver.
type DomainConfig struct {
	// Name identifies the domain. Must be unique across the configuration.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Priority orders domains for cross-domain operations. Lower values
	// sort first; ties are broken by declaration order.
	Priority int `mapstructure:"priority" yaml:"priority"`

	// Identity declares the identity-store connectors.
	Identity []IdentityConnectorConfig `mapstructure:"identity" validate:"required,min=1,dive" yaml:"identity"`

	// Credential declares the credential-store connectors.
	Credential []CredentialConnectorConfig `mapstructure:"credential" validate:"dive" yaml:"credential,omitempty"`

	// Mappings binds claim URIs to connector attributes.
	Mappings []MappingConfig `mapstructure:"mappings" validate:"required,min=1,dive" yaml:"mappings"`

	// Resolver configures the unique-id linkage store.
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
}

// IdentityConnectorConfig configures one identity-store connector.
type IdentityConnectorConfig struct {
	// ID identifies the connector within its domain.
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Type selects the backend: memory or sql.
	// Default: memory
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory sql" yaml:"type"`

	// Database configures the sql backend. Ignored for memory.
	Database database.Config `mapstructure:"database" yaml:"database,omitempty"`
}

// CredentialConnectorConfig configures one credential-store connector.
type CredentialConnectorConfig struct {
	// ID identifies the connector within its domain.
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Type selects the backend: memory or vault.
	// Default: memory
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory vault" yaml:"type"`

	// Path is the directory for the vault backend. Ignored for memory.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// MappingConfig binds one claim URI to a connector attribute.
type MappingConfig struct {
	// ClaimURI is the claim this mapping covers.
	ClaimURI string `mapstructure:"claim_uri" validate:"required" yaml:"claim_uri"`

	// DialectURI qualifies the claim URI.
	// Default: http://wso2.org/claims
	DialectURI string `mapstructure:"dialect_uri" yaml:"dialect_uri,omitempty"`

	// ConnectorID is the identity connector that owns the attribute.
	ConnectorID string `mapstructure:"connector_id" validate:"required" yaml:"connector_id"`

	// AttributeName is the connector-local attribute the claim is stored under.
	AttributeName string `mapstructure:"attribute_name" validate:"required" yaml:"attribute_name"`

	// Unique marks claims whose value identifies at most one user per domain.
	Unique bool `mapstructure:"unique" yaml:"unique"`

	// Properties carries free-form claim metadata.
	Properties map[string]string `mapstructure:"properties" yaml:"properties,omitempty"`
}

// ResolverConfig configures a domain's unique-id resolver.
type ResolverConfig struct {
	// Type selects the backend: memory or sql.
	// Default: memory
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory sql" yaml:"type"`

	// Database configures the sql backend. Ignored for memory.
	Database database.Config `mapstructure:"database" yaml:"database,omitempty"`
}

// MetaClaimMapping converts the config entry to the runtime mapping type.
func (m MappingConfig) MetaClaimMapping() claim.MetaClaimMapping {
	dialect := m.DialectURI
	if dialect == "" {
		dialect = claim.DefaultDialectURI
	}
	return claim.MetaClaimMapping{
		MetaClaim: claim.MetaClaim{
			DialectURI: dialect,
			ClaimURI:   m.ClaimURI,
			Properties: m.Properties,
		},
		ConnectorID:   m.ConnectorID,
		AttributeName: m.AttributeName,
		Unique:        m.Unique,
	}
}

// CloseFunc releases the backends opened by BuildRegistry.
type CloseFunc func() error

// BuildRegistry assembles the domain registry from configuration: it opens
// every connector and resolver backend, builds the domains in declaration
// order and registers them.
//
// The returned CloseFunc closes all opened backends and must be called when
// the registry is no longer needed, including when BuildRegistry itself
// succeeded but a later startup step fails.
func BuildRegistry(cfg *Config) (*domain.Registry, CloseFunc, error) {
	var closers []io.Closer
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	domains := make([]*domain.Domain, 0, len(cfg.Domains))
	for _, dc := range cfg.Domains {
		d, opened, err := buildDomain(dc)
		closers = append(closers, opened...)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("domain %q: %w", dc.Name, err)
		}
		domains = append(domains, d)
	}

	registry, err := domain.NewRegistry(domains...)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return registry, closeAll, nil
}

// buildDomain opens the backends of one domain and constructs it.
// Opened backends are returned even on error so the caller can close them.
func buildDomain(dc DomainConfig) (*domain.Domain, []io.Closer, error) {
	var opened []io.Closer

	identity := make([]connector.IdentityStoreConnector, 0, len(dc.Identity))
	for _, ic := range dc.Identity {
		c, err := buildIdentityConnector(ic)
		if err != nil {
			return nil, opened, err
		}
		if closer, ok := c.(io.Closer); ok {
			opened = append(opened, closer)
		}
		identity = append(identity, c)
	}

	credential := make([]connector.CredentialStoreConnector, 0, len(dc.Credential))
	for _, cc := range dc.Credential {
		c, err := buildCredentialConnector(cc)
		if err != nil {
			return nil, opened, err
		}
		if closer, ok := c.(io.Closer); ok {
			opened = append(opened, closer)
		}
		credential = append(credential, c)
	}

	res, err := buildResolver(dc.Resolver)
	if err != nil {
		return nil, opened, err
	}
	if closer, ok := res.(io.Closer); ok {
		opened = append(opened, closer)
	}

	mappings := make([]claim.MetaClaimMapping, 0, len(dc.Mappings))
	for _, mc := range dc.Mappings {
		mappings = append(mappings, mc.MetaClaimMapping())
	}

	d, err := domain.New(dc.Name, dc.Priority, identity, credential, mappings, res)
	if err != nil {
		return nil, opened, err
	}
	return d, opened, nil
}

func buildIdentityConnector(ic IdentityConnectorConfig) (connector.IdentityStoreConnector, error) {
	switch ic.Type {
	case "", BackendMemory:
		return connmem.NewIdentityConnector(ic.ID), nil
	case BackendSQL:
		db := ic.Database
		return connsql.New(ic.ID, &db)
	default:
		return nil, fmt.Errorf("identity connector %q: unknown type %q", ic.ID, ic.Type)
	}
}

func buildCredentialConnector(cc CredentialConnectorConfig) (connector.CredentialStoreConnector, error) {
	switch cc.Type {
	case "", BackendMemory:
		return connmem.NewCredentialConnector(cc.ID), nil
	case BackendVault:
		if cc.Path == "" {
			return nil, fmt.Errorf("credential connector %q: vault backend requires a path", cc.ID)
		}
		return vault.New(cc.ID, cc.Path)
	default:
		return nil, fmt.Errorf("credential connector %q: unknown type %q", cc.ID, cc.Type)
	}
}

func buildResolver(rc ResolverConfig) (resolver.UniqueIDResolver, error) {
	switch rc.Type {
	case "", BackendMemory:
		return resmem.New(), nil
	case BackendSQL:
		db := rc.Database
		return ressql.New(&db)
	default:
		return nil, fmt.Errorf("resolver: unknown type %q", rc.Type)
	}
}
