package domain

import (
	"fmt"
	"sort"
)

// Registry is a frozen, priority-ordered set of domains with a name index.
//
// Ordering is by (priority, insertion sequence): equal priorities never
// collapse, the domain registered first sorts first. The first domain in the
// order is the primary domain, the default for operations that omit a domain
// name.
type Registry struct {
	ordered []*Domain
	byName  map[string]*Domain
}

// NewRegistry builds a registry from the given domains. Insertion order
// breaks priority ties. Domain names must be unique.
func NewRegistry(domains ...*Domain) (*Registry, error) {
	r := &Registry{
		ordered: make([]*Domain, 0, len(domains)),
		byName:  make(map[string]*Domain, len(domains)),
	}

	for _, d := range domains {
		if _, ok := r.byName[d.Name()]; ok {
			return nil, fmt.Errorf("domain %q: %w", d.Name(), ErrDuplicateDomain)
		}
		r.byName[d.Name()] = d
		r.ordered = append(r.ordered, d)
	}

	// Stable sort keeps insertion order within equal priorities.
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Priority() < r.ordered[j].Priority()
	})

	return r, nil
}

// Len returns the number of registered domains.
func (r *Registry) Len() int { return len(r.ordered) }

// PrimaryDomain returns the first domain in priority order.
// Returns ErrNoDomains when the registry is empty.
func (r *Registry) PrimaryDomain() (*Domain, error) {
	if len(r.ordered) == 0 {
		return nil, ErrNoDomains
	}
	return r.ordered[0], nil
}

// Domain returns the domain with the given name.
// Returns ErrDomainNotFound if absent.
func (r *Registry) Domain(name string) (*Domain, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("domain %q: %w", name, ErrDomainNotFound)
	}
	return d, nil
}

// Domains returns the domains in priority order.
func (r *Registry) Domains() []*Domain {
	out := make([]*Domain, len(r.ordered))
	copy(out, r.ordered)
	return out
}
