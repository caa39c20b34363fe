package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fedid/fedid/pkg/claim"
)

// Validate checks the configuration for errors.
//
// Struct tags cover field-level constraints; the checks below cover
// cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics port %d collides with the API port", cfg.Metrics.Port)
	}

	if secret := cfg.API.GetJWTSecret(); secret != "" && len(secret) < 32 {
		return fmt.Errorf("api.jwt.secret must be at least 32 characters")
	}

	seen := make(map[string]bool, len(cfg.Domains))
	for _, dc := range cfg.Domains {
		if seen[dc.Name] {
			return fmt.Errorf("duplicate domain name %q", dc.Name)
		}
		seen[dc.Name] = true

		if err := validateDomain(dc); err != nil {
			return fmt.Errorf("domain %q: %w", dc.Name, err)
		}
	}

	// Profiles must compile even though the set is only built at startup.
	if _, err := claim.NewProfileSet(cfg.Profiles); err != nil {
		return err
	}

	return nil
}

func validateDomain(dc DomainConfig) error {
	identityIDs := make(map[string]bool, len(dc.Identity))
	for _, ic := range dc.Identity {
		if identityIDs[ic.ID] {
			return fmt.Errorf("duplicate identity connector %q", ic.ID)
		}
		identityIDs[ic.ID] = true

		if ic.Type == BackendSQL {
			if err := ic.Database.Validate(); err != nil {
				return fmt.Errorf("identity connector %q: %w", ic.ID, err)
			}
		}
	}

	credentialIDs := make(map[string]bool, len(dc.Credential))
	for _, cc := range dc.Credential {
		if credentialIDs[cc.ID] {
			return fmt.Errorf("duplicate credential connector %q", cc.ID)
		}
		if identityIDs[cc.ID] {
			return fmt.Errorf("connector ID %q used for both identity and credential", cc.ID)
		}
		credentialIDs[cc.ID] = true

		if cc.Type == BackendVault && cc.Path == "" {
			return fmt.Errorf("credential connector %q: vault backend requires a path", cc.ID)
		}
	}

	mapped := make(map[string]bool, len(dc.Mappings))
	for _, mc := range dc.Mappings {
		if mapped[mc.ClaimURI] {
			return fmt.Errorf("claim %q mapped more than once", mc.ClaimURI)
		}
		mapped[mc.ClaimURI] = true

		if !identityIDs[mc.ConnectorID] {
			return fmt.Errorf("claim %q mapped to unknown connector %q", mc.ClaimURI, mc.ConnectorID)
		}
	}

	if dc.Resolver.Type == BackendSQL {
		if err := dc.Resolver.Database.Validate(); err != nil {
			return fmt.Errorf("resolver: %w", err)
		}
	}

	return nil
}
