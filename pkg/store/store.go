// Package store implements the virtual identity store: a federation layer
// presenting a single logical user/group directory on top of heterogeneous
// backing connectors.
//
// The store routes each operation to the connectors of one domain, keeps the
// logical-to-connector linkage in the domain's unique-id resolver, and
// compensates partial write failures so no orphan partitions remain in the
// backends. It holds no locks of its own: concurrency control is delegated to
// the resolver and to each connector.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fedid/fedid/internal/logger"
	"github.com/fedid/fedid/pkg/domain"
	"github.com/fedid/fedid/pkg/metrics"
	"github.com/fedid/fedid/pkg/resolver"
)

// VirtualStore is the public entry point for all identity operations. It is
// re-entrant and safe for concurrent use; the registry is frozen at New.
type VirtualStore struct {
	registry *domain.Registry
	metrics  metrics.StoreMetrics
}

// Option configures a VirtualStore.
type Option func(*VirtualStore)

// WithMetrics attaches a metrics recorder. Pass nil to disable metrics.
func WithMetrics(m metrics.StoreMetrics) Option {
	return func(s *VirtualStore) { s.metrics = m }
}

// New creates a virtual store over a frozen domain registry.
func New(registry *domain.Registry, opts ...Option) (*VirtualStore, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, configError("No domains registered.")
	}

	s := &VirtualStore{registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry returns the store's domain registry.
func (s *VirtualStore) Registry() *domain.Registry { return s.registry }

// resolveDomain picks the target domain: an empty name falls through to the
// primary domain, an unknown name is a server error.
func (s *VirtualStore) resolveDomain(domainName string) (*domain.Domain, error) {
	if domainName == "" {
		d, err := s.registry.PrimaryDomain()
		if err != nil {
			return nil, serverError("no primary domain", err)
		}
		return d, nil
	}
	d, err := s.registry.Domain(domainName)
	if err != nil {
		return nil, serverError(fmt.Sprintf("unknown domain %q", domainName), err)
	}
	return d, nil
}

// observe records the operation outcome when metrics are attached.
func (s *VirtualStore) observe(operation, domainName string, started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	kind := ""
	var se *Error
	if errors.As(err, &se) {
		kind = string(se.Kind)
	}
	s.metrics.RecordOperation(operation, domainName, time.Since(started), kind)
}

// compensateUserPartitions undoes identity-store partitions written by a
// partially failed operation. Credential connectors expose no compensation.
// Best effort: failures are logged and swallowed, never re-raised through the
// original failure path. Runs even when ctx is already cancelled.
func (s *VirtualStore) compensateUserPartitions(ctx context.Context, d *domain.Domain, partitions []resolver.UserPartition) {
	byConnector := make(map[string][]string)
	for _, p := range partitions {
		if p.IsIdentityStore {
			byConnector[p.ConnectorID] = append(byConnector[p.ConnectorID], p.ConnectorLocalID)
		}
	}

	for connectorID, localIDs := range byConnector {
		conn, err := d.IdentityConnector(connectorID)
		if err != nil {
			logger.WarnCtx(ctx, "compensation skipped, connector unknown",
				logger.Domain(d.Name()), logger.Connector(connectorID), logger.Err(err))
			continue
		}
		err = conn.RemoveAddedUsersInAFailure(context.WithoutCancel(ctx), localIDs)
		if err != nil {
			logger.WarnCtx(ctx, "compensation failed",
				logger.Domain(d.Name()), logger.Connector(connectorID),
				logger.Count(len(localIDs)), logger.Err(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCompensation(connectorID, err != nil)
		}
	}
}

// compensateGroupPartitions is the group counterpart of
// compensateUserPartitions.
func (s *VirtualStore) compensateGroupPartitions(ctx context.Context, d *domain.Domain, partitions []resolver.GroupPartition) {
	byConnector := make(map[string][]string)
	for _, p := range partitions {
		byConnector[p.ConnectorID] = append(byConnector[p.ConnectorID], p.ConnectorLocalID)
	}

	for connectorID, localIDs := range byConnector {
		conn, err := d.IdentityConnector(connectorID)
		if err != nil {
			logger.WarnCtx(ctx, "compensation skipped, connector unknown",
				logger.Domain(d.Name()), logger.Connector(connectorID), logger.Err(err))
			continue
		}
		err = conn.RemoveAddedGroupsInAFailure(context.WithoutCancel(ctx), localIDs)
		if err != nil {
			logger.WarnCtx(ctx, "compensation failed",
				logger.Domain(d.Name()), logger.Connector(connectorID),
				logger.Count(len(localIDs)), logger.Err(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCompensation(connectorID, err != nil)
		}
	}
}
