package claim

import (
	"fmt"
	"regexp"
)

// Profile constrains one claim at the API boundary. Profiles are declarative
// configuration; compile them into a ProfileSet before use.
type Profile struct {
	// ClaimURI is the claim this profile constrains.
	ClaimURI string `json:"claim_uri" yaml:"claim_uri" mapstructure:"claim_uri" validate:"required"`

	// DialectURI qualifies the claim URI. Defaults to DefaultDialectURI.
	DialectURI string `json:"dialect_uri,omitempty" yaml:"dialect_uri,omitempty" mapstructure:"dialect_uri"`

	// Required rejects user creation without a non-empty value for this claim.
	Required bool `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`

	// ReadOnly rejects updates to this claim after creation.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty" mapstructure:"read_only"`

	// Regex, when set, must match every submitted value for this claim.
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty" mapstructure:"regex"`

	// DefaultValue is injected on creation when the claim is absent.
	DefaultValue string `json:"default_value,omitempty" yaml:"default_value,omitempty" mapstructure:"default_value"`

	// DataType documents the value type. Informational only.
	DataType string `json:"data_type,omitempty" yaml:"data_type,omitempty" mapstructure:"data_type"`

	// Properties carries free-form profile metadata.
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
}

// compiledProfile is a Profile with its regex pre-compiled.
type compiledProfile struct {
	Profile
	regex *regexp.Regexp
}

// ProfileSet enforces a set of claim profiles. Claims without a profile pass
// through untouched. Safe for concurrent use once built.
type ProfileSet struct {
	byURI map[string]compiledProfile
}

// NewProfileSet compiles the profiles. A claim URI may carry at most one
// profile and every regex must compile.
func NewProfileSet(profiles []Profile) (*ProfileSet, error) {
	set := &ProfileSet{byURI: make(map[string]compiledProfile, len(profiles))}
	for _, p := range profiles {
		if p.DialectURI == "" {
			p.DialectURI = DefaultDialectURI
		}
		key := p.DialectURI + "|" + p.ClaimURI
		if _, ok := set.byURI[key]; ok {
			return nil, fmt.Errorf("duplicate profile for claim %q", p.ClaimURI)
		}
		cp := compiledProfile{Profile: p}
		if p.Regex != "" {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("profile for claim %q: invalid regex: %w", p.ClaimURI, err)
			}
			cp.regex = re
		}
		set.byURI[key] = cp
	}
	return set, nil
}

// Len returns the number of profiles in the set.
func (s *ProfileSet) Len() int { return len(s.byURI) }

func (s *ProfileSet) lookup(c Claim) (compiledProfile, bool) {
	p, ok := s.byURI[c.DialectURI+"|"+c.ClaimURI]
	return p, ok
}

// ValidateCreate checks the claims of a new subject against the set and
// returns the claims with default values injected for absent profiled claims.
func (s *ProfileSet) ValidateCreate(claims []Claim) ([]Claim, error) {
	present := make(map[string]bool, len(claims))
	for _, c := range claims {
		if err := s.checkValue(c); err != nil {
			return nil, err
		}
		present[c.DialectURI+"|"+c.ClaimURI] = true
	}

	out := append([]Claim(nil), claims...)
	for key, p := range s.byURI {
		if present[key] {
			continue
		}
		if p.DefaultValue != "" {
			out = append(out, Claim{
				DialectURI: p.DialectURI,
				ClaimURI:   p.ClaimURI,
				Value:      p.DefaultValue,
			})
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("claim %q is required", p.ClaimURI)
		}
	}
	return out, nil
}

// ValidateUpdate checks updated claims against the set. Read-only claims are
// rejected outright.
func (s *ProfileSet) ValidateUpdate(claims []Claim) error {
	for _, c := range claims {
		p, ok := s.lookup(c)
		if !ok {
			continue
		}
		if p.ReadOnly {
			return fmt.Errorf("claim %q is read-only", c.ClaimURI)
		}
		if err := s.checkValue(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProfileSet) checkValue(c Claim) error {
	p, ok := s.lookup(c)
	if !ok {
		return nil
	}
	if p.Required && c.Value == "" {
		return fmt.Errorf("claim %q is required", c.ClaimURI)
	}
	if p.regex != nil && !p.regex.MatchString(c.Value) {
		return fmt.Errorf("claim %q: value does not match %q", c.ClaimURI, p.Regex)
	}
	return nil
}
