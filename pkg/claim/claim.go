// Package claim defines the caller-visible claim vocabulary and the pure
// translation between claims and connector-local attributes.
//
// Claims are dialect-qualified facts about a subject (for example an email
// address). Connectors never see claims; they see attributes. The per-domain
// mapping table decides which connector owns which claim and under which
// attribute name.
package claim

// Well-known claim URIs.
const (
	// DefaultDialectURI is the canonical claim dialect. All claims entering
	// the virtual store are assumed to already be in this dialect; dialect
	// conversion is a collaborator's job, not ours.
	DefaultDialectURI = "http://wso2.org/claims"

	// UsernameURI is required with a non-empty value on every new user.
	UsernameURI = "http://wso2.org/claims/username"

	// EmailURI is the conventional email address claim.
	EmailURI = "http://wso2.org/claims/emailaddress"
)

// Claim is a dialect-qualified fact about a subject.
type Claim struct {
	DialectURI string `json:"dialect_uri" yaml:"dialect_uri" mapstructure:"dialect_uri"`
	ClaimURI   string `json:"claim_uri" yaml:"claim_uri" mapstructure:"claim_uri"`
	Value      string `json:"value" yaml:"value" mapstructure:"value"`
}

// NewClaim builds a claim in the default dialect.
func NewClaim(claimURI, value string) Claim {
	return Claim{
		DialectURI: DefaultDialectURI,
		ClaimURI:   claimURI,
		Value:      value,
	}
}

// MetaClaim is the schema of a claim without its value.
type MetaClaim struct {
	DialectURI string            `json:"dialect_uri" yaml:"dialect_uri" mapstructure:"dialect_uri"`
	ClaimURI   string            `json:"claim_uri" yaml:"claim_uri" mapstructure:"claim_uri"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
}

// MetaClaimMapping binds one MetaClaim to a connector attribute inside one
// domain. A claim URI maps to at most one connector per domain.
type MetaClaimMapping struct {
	MetaClaim MetaClaim `json:"meta_claim" yaml:"meta_claim" mapstructure:"meta_claim"`

	// ConnectorID is the identity-store connector that owns the attribute.
	ConnectorID string `json:"connector_id" yaml:"connector_id" mapstructure:"connector_id"`

	// AttributeName is the connector-local name the claim is stored under.
	AttributeName string `json:"attribute_name" yaml:"attribute_name" mapstructure:"attribute_name"`

	// Unique marks claims whose value identifies at most one user per
	// domain. Authentication requires a unique claim.
	Unique bool `json:"unique" yaml:"unique" mapstructure:"unique"`
}

// Matches reports whether the mapping covers the given claim.
func (m MetaClaimMapping) Matches(c Claim) bool {
	return m.MetaClaim.DialectURI == c.DialectURI && m.MetaClaim.ClaimURI == c.ClaimURI
}

// Attribute is the connector-local, dialect-free form of a claim.
type Attribute struct {
	Name  string `json:"name" yaml:"name" mapstructure:"name"`
	Value string `json:"value" yaml:"value" mapstructure:"value"`
}
