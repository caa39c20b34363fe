package domain

import (
	"errors"
	"testing"

	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	connmem "github.com/fedid/fedid/pkg/connector/memory"
	resmem "github.com/fedid/fedid/pkg/resolver/memory"
)

func newTestDomain(t *testing.T, name string, priority int) *Domain {
	t.Helper()

	ic := connmem.NewIdentityConnector("IC1")
	cc := connmem.NewCredentialConnector("CC1")
	mappings := []claim.MetaClaimMapping{
		{
			MetaClaim:     claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: claim.UsernameURI},
			ConnectorID:   "IC1",
			AttributeName: "attr_uid",
			Unique:        true,
		},
	}

	d, err := New(name, priority,
		[]connector.IdentityStoreConnector{ic},
		[]connector.CredentialStoreConnector{cc},
		mappings, resmem.New())
	if err != nil {
		t.Fatalf("New(%s) error = %v", name, err)
	}
	return d
}

func TestNewDomainValidation(t *testing.T) {
	ic := connmem.NewIdentityConnector("IC1")
	res := resmem.New()

	t.Run("empty name", func(t *testing.T) {
		if _, err := New("", 0, nil, nil, nil, res); err == nil {
			t.Error("New() with empty name succeeded, want error")
		}
	})

	t.Run("nil resolver", func(t *testing.T) {
		if _, err := New("d", 0, nil, nil, nil, nil); err == nil {
			t.Error("New() with nil resolver succeeded, want error")
		}
	})

	t.Run("duplicate identity connector", func(t *testing.T) {
		_, err := New("d", 0,
			[]connector.IdentityStoreConnector{ic, connmem.NewIdentityConnector("IC1")},
			nil, nil, res)
		if err == nil {
			t.Error("New() with duplicate connector IDs succeeded, want error")
		}
	})

	t.Run("claim mapped twice", func(t *testing.T) {
		m := claim.MetaClaimMapping{
			MetaClaim:     claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: claim.UsernameURI},
			ConnectorID:   "IC1",
			AttributeName: "attr_uid",
		}
		_, err := New("d", 0, []connector.IdentityStoreConnector{ic}, nil,
			[]claim.MetaClaimMapping{m, m}, res)
		if err == nil {
			t.Error("New() with a doubly mapped claim succeeded, want error")
		}
	})

	t.Run("mapping to unknown connector", func(t *testing.T) {
		m := claim.MetaClaimMapping{
			MetaClaim:     claim.MetaClaim{DialectURI: claim.DefaultDialectURI, ClaimURI: claim.UsernameURI},
			ConnectorID:   "IC9",
			AttributeName: "attr_uid",
		}
		_, err := New("d", 0, []connector.IdentityStoreConnector{ic}, nil,
			[]claim.MetaClaimMapping{m}, res)
		if err == nil {
			t.Error("New() with mapping to unknown connector succeeded, want error")
		}
	})
}

func TestDomainClaimLookups(t *testing.T) {
	d := newTestDomain(t, "PRIMARY", 10)

	if !d.IsClaimSupported(claim.UsernameURI) {
		t.Errorf("IsClaimSupported(%s) = false, want true", claim.UsernameURI)
	}
	if d.IsClaimSupported("urn:unmapped") {
		t.Error("IsClaimSupported(unmapped) = true, want false")
	}

	m, err := d.MetaClaimMapping(claim.UsernameURI)
	if err != nil {
		t.Fatalf("MetaClaimMapping() error = %v", err)
	}
	if m.ConnectorID != "IC1" || m.AttributeName != "attr_uid" {
		t.Errorf("MetaClaimMapping() = %+v, want IC1/attr_uid", m)
	}

	if _, err := d.MetaClaimMapping("urn:unmapped"); !errors.Is(err, ErrClaimMappingNotFound) {
		t.Errorf("MetaClaimMapping(unmapped) error = %v, want ErrClaimMappingNotFound", err)
	}

	byConn := d.MappingsByConnector()
	if len(byConn["IC1"]) != 1 {
		t.Errorf("MappingsByConnector()[IC1] has %d mappings, want 1", len(byConn["IC1"]))
	}
}

func TestDomainConnectorLookups(t *testing.T) {
	d := newTestDomain(t, "PRIMARY", 10)

	if _, err := d.IdentityConnector("IC1"); err != nil {
		t.Errorf("IdentityConnector(IC1) error = %v", err)
	}
	if _, err := d.IdentityConnector("IC9"); !errors.Is(err, ErrConnectorNotFound) {
		t.Errorf("IdentityConnector(IC9) error = %v, want ErrConnectorNotFound", err)
	}
	if _, err := d.CredentialConnector("CC1"); err != nil {
		t.Errorf("CredentialConnector(CC1) error = %v", err)
	}
	if _, err := d.CredentialConnector("CC9"); !errors.Is(err, ErrConnectorNotFound) {
		t.Errorf("CredentialConnector(CC9) error = %v, want ErrConnectorNotFound", err)
	}
}

func TestRegistryOrdering(t *testing.T) {
	t.Run("empty registry has no primary", func(t *testing.T) {
		r, err := NewRegistry()
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		if _, err := r.PrimaryDomain(); !errors.Is(err, ErrNoDomains) {
			t.Errorf("PrimaryDomain() error = %v, want ErrNoDomains", err)
		}
	})

	t.Run("lower priority wins", func(t *testing.T) {
		a := newTestDomain(t, "A", 20)
		b := newTestDomain(t, "B", 10)
		r, err := NewRegistry(a, b)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		primary, err := r.PrimaryDomain()
		if err != nil {
			t.Fatalf("PrimaryDomain() error = %v", err)
		}
		if primary.Name() != "B" {
			t.Errorf("PrimaryDomain() = %q, want B", primary.Name())
		}
	})

	t.Run("equal priorities keep insertion order", func(t *testing.T) {
		a := newTestDomain(t, "A", 10)
		b := newTestDomain(t, "B", 10)
		r, err := NewRegistry(a, b)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		primary, err := r.PrimaryDomain()
		if err != nil {
			t.Fatalf("PrimaryDomain() error = %v", err)
		}
		if primary.Name() != "A" {
			t.Errorf("PrimaryDomain() = %q, want A (inserted first)", primary.Name())
		}
		domains := r.Domains()
		if domains[0].Name() != "A" || domains[1].Name() != "B" {
			t.Errorf("Domains() order = [%s %s], want [A B]", domains[0].Name(), domains[1].Name())
		}
	})

	t.Run("duplicate names rejected", func(t *testing.T) {
		a := newTestDomain(t, "A", 10)
		a2 := newTestDomain(t, "A", 20)
		if _, err := NewRegistry(a, a2); !errors.Is(err, ErrDuplicateDomain) {
			t.Errorf("NewRegistry(duplicate) error = %v, want ErrDuplicateDomain", err)
		}
	})

	t.Run("lookup by name", func(t *testing.T) {
		a := newTestDomain(t, "A", 10)
		r, err := NewRegistry(a)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		if _, err := r.Domain("A"); err != nil {
			t.Errorf("Domain(A) error = %v", err)
		}
		if _, err := r.Domain("Z"); !errors.Is(err, ErrDomainNotFound) {
			t.Errorf("Domain(Z) error = %v, want ErrDomainNotFound", err)
		}
	})
}
