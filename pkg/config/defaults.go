package config

import (
	"strings"
	"time"

	"github.com/fedid/fedid/pkg/claim"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	cfg.API.ApplyDefaults()
	for i := range cfg.Domains {
		applyDomainDefaults(&cfg.Domains[i])
	}
	for i := range cfg.Profiles {
		applyProfileDefaults(&cfg.Profiles[i])
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation.
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
// Metrics are opt-in; the port defaults only when enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyDomainDefaults fills in backend types and mapping dialects.
func applyDomainDefaults(dc *DomainConfig) {
	for i := range dc.Identity {
		if dc.Identity[i].Type == "" {
			dc.Identity[i].Type = BackendMemory
		}
		if dc.Identity[i].Type == BackendSQL {
			dc.Identity[i].Database.ApplyDefaults()
		}
	}
	for i := range dc.Credential {
		if dc.Credential[i].Type == "" {
			dc.Credential[i].Type = BackendMemory
		}
	}
	if dc.Resolver.Type == "" {
		dc.Resolver.Type = BackendMemory
	}
	if dc.Resolver.Type == BackendSQL {
		dc.Resolver.Database.ApplyDefaults()
	}
	for i := range dc.Mappings {
		if dc.Mappings[i].DialectURI == "" {
			dc.Mappings[i].DialectURI = claim.DefaultDialectURI
		}
	}
}

// applyProfileDefaults fills in the profile dialect.
func applyProfileDefaults(p *claim.Profile) {
	if p.DialectURI == "" {
		p.DialectURI = claim.DefaultDialectURI
	}
	if p.DataType == "" {
		p.DataType = "string"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// The default configuration carries a single in-memory domain with username
// and email mappings, which is enough to boot the server for evaluation.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Domains: []DomainConfig{
			{
				Name:     "PRIMARY",
				Priority: 10,
				Identity: []IdentityConnectorConfig{
					{ID: "IC1", Type: BackendMemory},
				},
				Credential: []CredentialConnectorConfig{
					{ID: "CC1", Type: BackendMemory},
				},
				Mappings: []MappingConfig{
					{
						ClaimURI:      claim.UsernameURI,
						ConnectorID:   "IC1",
						AttributeName: "attr_username",
						Unique:        true,
					},
					{
						ClaimURI:      claim.DefaultDialectURI + "/emailaddress",
						ConnectorID:   "IC1",
						AttributeName: "attr_email",
						Unique:        true,
					},
				},
				Resolver: ResolverConfig{Type: BackendMemory},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
