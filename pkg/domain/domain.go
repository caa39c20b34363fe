// Package domain implements identity domains and the priority-ordered
// domain registry.
//
// A domain is a named bundle of identity connectors, credential connectors,
// a claim mapping table and a unique-id resolver that together serve one
// logical user population. Domains are immutable once constructed; the
// registry is populated once and frozen.
package domain

import (
	"fmt"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/resolver"
)

// Domain bundles the connectors and mappings serving one user population.
// All accessors are safe for concurrent use; nothing mutates after New.
type Domain struct {
	name     string
	priority int

	identityConnectors   []connector.IdentityStoreConnector
	credentialConnectors []connector.CredentialStoreConnector
	identityByID         map[string]connector.IdentityStoreConnector
	credentialByID       map[string]connector.CredentialStoreConnector

	mappings     []claim.MetaClaimMapping
	mappingByURI map[string]claim.MetaClaimMapping

	uniqueIDResolver resolver.UniqueIDResolver
}

// New builds a domain. Connector IDs must be unique within the domain and a
// claim URI may appear in at most one mapping.
func New(
	name string,
	priority int,
	identityConnectors []connector.IdentityStoreConnector,
	credentialConnectors []connector.CredentialStoreConnector,
	mappings []claim.MetaClaimMapping,
	uniqueIDResolver resolver.UniqueIDResolver,
) (*Domain, error) {
	if name == "" {
		return nil, fmt.Errorf("domain name is required")
	}
	if uniqueIDResolver == nil {
		return nil, fmt.Errorf("domain %q: unique-id resolver is required", name)
	}

	d := &Domain{
		name:                 name,
		priority:             priority,
		identityConnectors:   identityConnectors,
		credentialConnectors: credentialConnectors,
		identityByID:         make(map[string]connector.IdentityStoreConnector, len(identityConnectors)),
		credentialByID:       make(map[string]connector.CredentialStoreConnector, len(credentialConnectors)),
		mappings:             mappings,
		mappingByURI:         make(map[string]claim.MetaClaimMapping, len(mappings)),
		uniqueIDResolver:     uniqueIDResolver,
	}

	for _, c := range identityConnectors {
		if _, ok := d.identityByID[c.ID()]; ok {
			return nil, fmt.Errorf("domain %q: duplicate identity connector %q", name, c.ID())
		}
		d.identityByID[c.ID()] = c
	}
	for _, c := range credentialConnectors {
		if _, ok := d.credentialByID[c.ID()]; ok {
			return nil, fmt.Errorf("domain %q: duplicate credential connector %q", name, c.ID())
		}
		d.credentialByID[c.ID()] = c
	}
	for _, m := range mappings {
		if _, ok := d.mappingByURI[m.MetaClaim.ClaimURI]; ok {
			return nil, fmt.Errorf("domain %q: claim %q mapped more than once", name, m.MetaClaim.ClaimURI)
		}
		if _, ok := d.identityByID[m.ConnectorID]; !ok {
			return nil, fmt.Errorf("domain %q: claim %q mapped to unknown connector %q",
				name, m.MetaClaim.ClaimURI, m.ConnectorID)
		}
		d.mappingByURI[m.MetaClaim.ClaimURI] = m
	}

	return d, nil
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Priority returns the domain priority. Lower sorts first.
func (d *Domain) Priority() int { return d.priority }

// IsClaimSupported reports whether the domain maps the claim URI.
func (d *Domain) IsClaimSupported(claimURI string) bool {
	_, ok := d.mappingByURI[claimURI]
	return ok
}

// MetaClaimMapping returns the mapping for the claim URI.
// Returns ErrClaimMappingNotFound if the domain does not map it.
func (d *Domain) MetaClaimMapping(claimURI string) (claim.MetaClaimMapping, error) {
	m, ok := d.mappingByURI[claimURI]
	if !ok {
		return claim.MetaClaimMapping{}, fmt.Errorf("domain %q, claim %q: %w", d.name, claimURI, ErrClaimMappingNotFound)
	}
	return m, nil
}

// MetaClaimMappings returns the full mapping table.
func (d *Domain) MetaClaimMappings() []claim.MetaClaimMapping {
	out := make([]claim.MetaClaimMapping, len(d.mappings))
	copy(out, d.mappings)
	return out
}

// MappingsByConnector groups the mapping table by owning connector ID.
func (d *Domain) MappingsByConnector() map[string][]claim.MetaClaimMapping {
	out := make(map[string][]claim.MetaClaimMapping)
	for _, m := range d.mappings {
		out[m.ConnectorID] = append(out[m.ConnectorID], m)
	}
	return out
}

// IdentityConnector returns the identity connector with the given ID.
// Returns ErrConnectorNotFound if absent.
func (d *Domain) IdentityConnector(id string) (connector.IdentityStoreConnector, error) {
	c, ok := d.identityByID[id]
	if !ok {
		return nil, fmt.Errorf("domain %q, identity connector %q: %w", d.name, id, ErrConnectorNotFound)
	}
	return c, nil
}

// CredentialConnector returns the credential connector with the given ID.
// Returns ErrConnectorNotFound if absent.
func (d *Domain) CredentialConnector(id string) (connector.CredentialStoreConnector, error) {
	c, ok := d.credentialByID[id]
	if !ok {
		return nil, fmt.Errorf("domain %q, credential connector %q: %w", d.name, id, ErrConnectorNotFound)
	}
	return c, nil
}

// IdentityConnectors returns the identity connectors in configured order.
func (d *Domain) IdentityConnectors() []connector.IdentityStoreConnector {
	out := make([]connector.IdentityStoreConnector, len(d.identityConnectors))
	copy(out, d.identityConnectors)
	return out
}

// CredentialConnectors returns the credential connectors in configured order.
func (d *Domain) CredentialConnectors() []connector.CredentialStoreConnector {
	out := make([]connector.CredentialStoreConnector, len(d.credentialConnectors))
	copy(out, d.credentialConnectors)
	return out
}

// Resolver returns the domain's unique-id resolver.
func (d *Domain) Resolver() resolver.UniqueIDResolver {
	return d.uniqueIDResolver
}
