package store

import (
	"context"
	"time"

	"github.com/fedid/fedid/internal/logger"
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/domain"
)

// Authenticate verifies the credential against the user identified by the
// claim. With an empty domainName all domains are tried in priority order and
// per-domain failures are swallowed; the caller only learns whether any
// domain accepted the credential. The identifying claim must be mapped with
// unique=true in the domain that answers.
func (s *VirtualStore) Authenticate(ctx context.Context, c claim.Claim, cred connector.Credential, domainName string) (AuthenticationContext, error) {
	started := time.Now()
	ac, err := s.authenticate(ctx, c, cred, domainName)
	s.observe("authenticate", domainName, started, err)
	return ac, err
}

func (s *VirtualStore) authenticate(ctx context.Context, c claim.Claim, cred connector.Credential, domainName string) (AuthenticationContext, error) {
	if c.ClaimURI == "" || c.Value == "" || cred == nil {
		return AuthenticationContext{}, authenticationFailure(nil)
	}

	if domainName != "" {
		d, err := s.registry.Domain(domainName)
		if err != nil {
			s.recordAuthentication(domainName, false)
			return AuthenticationContext{}, authenticationFailure(err)
		}
		ac, err := s.authenticateInDomain(ctx, d, c, cred)
		s.recordAuthentication(d.Name(), err == nil)
		return ac, err
	}

	for _, d := range s.registry.Domains() {
		if !d.IsClaimSupported(c.ClaimURI) {
			continue
		}
		ac, err := s.authenticateInDomain(ctx, d, c, cred)
		if err == nil {
			s.recordAuthentication(d.Name(), true)
			return ac, nil
		}
		logger.DebugCtx(ctx, "authentication attempt failed",
			logger.Domain(d.Name()), logger.ClaimURI(c.ClaimURI), logger.Err(err))
	}

	s.recordAuthentication("", false)
	return AuthenticationContext{}, authenticationFailure(nil)
}

// authenticateInDomain runs one authentication attempt inside a single
// domain. Every failure collapses to an authentication error so callers
// cannot distinguish unknown users from wrong credentials.
func (s *VirtualStore) authenticateInDomain(ctx context.Context, d *domain.Domain, c claim.Claim, cred connector.Credential) (AuthenticationContext, error) {
	m, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return AuthenticationContext{}, authenticationFailure(err)
	}
	if !m.Unique {
		return AuthenticationContext{}, authenticationFailure(nil)
	}

	conn, err := d.IdentityConnector(m.ConnectorID)
	if err != nil {
		return AuthenticationContext{}, authenticationFailure(err)
	}
	connectorUserID, err := conn.GetConnectorUserID(ctx, m.AttributeName, c.Value)
	if err != nil {
		return AuthenticationContext{}, authenticationFailure(err)
	}

	u, err := d.Resolver().GetUniqueUserFromConnectorUserID(ctx, connectorUserID, m.ConnectorID)
	if err != nil || u.ID == "" {
		return AuthenticationContext{}, authenticationFailure(err)
	}

	// The first partition whose connector can handle the bundle decides;
	// a rejection there is final and later partitions are never consulted.
	for _, p := range u.CredentialPartitions() {
		credConn, err := d.CredentialConnector(p.ConnectorID)
		if err != nil {
			continue
		}
		bundle := connector.Bundle{
			Credential: cred,
			Metadata:   map[string]string{connector.MetaUserID: p.ConnectorLocalID},
		}
		if !credConn.CanHandle(bundle) {
			continue
		}
		if err := credConn.Authenticate(ctx, bundle); err != nil {
			return AuthenticationContext{}, authenticationFailure(err)
		}
		return AuthenticationContext{
			User: User{id: u.ID, domainName: d.Name(), store: s},
		}, nil
	}

	return AuthenticationContext{}, authenticationFailure(nil)
}

func (s *VirtualStore) recordAuthentication(domainName string, success bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAuthentication(domainName, success)
}
