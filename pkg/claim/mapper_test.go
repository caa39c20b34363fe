package claim

import (
	"reflect"
	"sort"
	"testing"
)

func testMappings() []MetaClaimMapping {
	return []MetaClaimMapping{
		{
			MetaClaim:     MetaClaim{DialectURI: DefaultDialectURI, ClaimURI: UsernameURI},
			ConnectorID:   "IC1",
			AttributeName: "attr_uid",
			Unique:        true,
		},
		{
			MetaClaim:     MetaClaim{DialectURI: DefaultDialectURI, ClaimURI: DefaultDialectURI + "/email"},
			ConnectorID:   "IC1",
			AttributeName: "attr_mail",
			Unique:        true,
		},
		{
			MetaClaim:     MetaClaim{DialectURI: DefaultDialectURI, ClaimURI: DefaultDialectURI + "/phone"},
			ConnectorID:   "IC2",
			AttributeName: "attr_tel",
		},
	}
}

func TestToConnectorAttributes(t *testing.T) {
	mappings := testMappings()

	tests := []struct {
		name   string
		claims []Claim
		want   map[string][]Attribute
	}{
		{
			name: "claims split across connectors",
			claims: []Claim{
				NewClaim(UsernameURI, "alice"),
				NewClaim(DefaultDialectURI+"/phone", "555-0100"),
				NewClaim(DefaultDialectURI+"/email", "a@x"),
			},
			want: map[string][]Attribute{
				"IC1": {{Name: "attr_uid", Value: "alice"}, {Name: "attr_mail", Value: "a@x"}},
				"IC2": {{Name: "attr_tel", Value: "555-0100"}},
			},
		},
		{
			name: "unmapped claims are dropped",
			claims: []Claim{
				NewClaim(UsernameURI, "bob"),
				NewClaim(DefaultDialectURI+"/shoe-size", "42"),
			},
			want: map[string][]Attribute{
				"IC1": {{Name: "attr_uid", Value: "bob"}},
			},
		},
		{
			name: "dialect must match too",
			claims: []Claim{
				{DialectURI: "urn:other", ClaimURI: UsernameURI, Value: "carol"},
			},
			want: map[string][]Attribute{},
		},
		{
			name:   "no claims",
			claims: nil,
			want:   map[string][]Attribute{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToConnectorAttributes(tt.claims, mappings)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToConnectorAttributes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToClaims(t *testing.T) {
	mappings := testMappings()

	t.Run("non-empty attribute lists are translated", func(t *testing.T) {
		attrs := map[string][]Attribute{
			"IC1": {{Name: "attr_uid", Value: "alice"}, {Name: "attr_mail", Value: "a@x"}},
			"IC2": {},
		}

		got := ToClaims(mappings, attrs)
		if len(got) != 2 {
			t.Fatalf("ToClaims() returned %d claims, want 2", len(got))
		}
		values := map[string]string{}
		for _, c := range got {
			values[c.ClaimURI] = c.Value
		}
		if values[UsernameURI] != "alice" {
			t.Errorf("username claim = %q, want %q", values[UsernameURI], "alice")
		}
		if values[DefaultDialectURI+"/email"] != "a@x" {
			t.Errorf("email claim = %q, want %q", values[DefaultDialectURI+"/email"], "a@x")
		}
	})

	t.Run("unknown attributes are skipped", func(t *testing.T) {
		attrs := map[string][]Attribute{
			"IC1": {{Name: "attr_unknown", Value: "x"}},
		}
		if got := ToClaims(mappings, attrs); len(got) != 0 {
			t.Errorf("ToClaims() = %v, want empty", got)
		}
	})

	t.Run("attribute name on wrong connector is skipped", func(t *testing.T) {
		attrs := map[string][]Attribute{
			"IC2": {{Name: "attr_uid", Value: "alice"}},
		}
		if got := ToClaims(mappings, attrs); len(got) != 0 {
			t.Errorf("ToClaims() = %v, want empty", got)
		}
	})
}

// Translating claims to attributes and back must restore the original claims,
// modulo claims with no mapping which are dropped on the forward leg.
func TestClaimAttributeRoundTrip(t *testing.T) {
	mappings := testMappings()

	original := []Claim{
		NewClaim(UsernameURI, "alice"),
		NewClaim(DefaultDialectURI+"/email", "a@x"),
		NewClaim(DefaultDialectURI+"/phone", "555-0100"),
		NewClaim(DefaultDialectURI+"/unmapped", "gone"),
	}

	restored := ToClaims(mappings, ToConnectorAttributes(original, mappings))

	want := original[:3]
	sortClaims(want)
	sortClaims(restored)
	if !reflect.DeepEqual(restored, want) {
		t.Errorf("round trip = %v, want %v", restored, want)
	}
}

func TestAttributeNamesByConnector(t *testing.T) {
	mappings := testMappings()

	tests := []struct {
		name       string
		metaClaims []MetaClaim
		want       map[string][]string
	}{
		{
			name: "selected names grouped per connector",
			metaClaims: []MetaClaim{
				{DialectURI: DefaultDialectURI, ClaimURI: UsernameURI},
				{DialectURI: DefaultDialectURI, ClaimURI: DefaultDialectURI + "/phone"},
			},
			want: map[string][]string{
				"IC1": {"attr_uid"},
				"IC2": {"attr_tel"},
			},
		},
		{
			name: "empty claim URI is ignored",
			metaClaims: []MetaClaim{
				{DialectURI: DefaultDialectURI, ClaimURI: ""},
				{DialectURI: DefaultDialectURI, ClaimURI: DefaultDialectURI + "/email"},
			},
			want: map[string][]string{
				"IC1": {"attr_mail"},
			},
		},
		{
			name: "unknown claim URI is ignored",
			metaClaims: []MetaClaim{
				{DialectURI: DefaultDialectURI, ClaimURI: DefaultDialectURI + "/unknown"},
			},
			want: map[string][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AttributeNamesByConnector(tt.metaClaims, mappings)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AttributeNamesByConnector() = %v, want %v", got, tt.want)
			}
		})
	}
}

func sortClaims(claims []Claim) {
	sort.Slice(claims, func(i, j int) bool { return claims[i].ClaimURI < claims[j].ClaimURI })
}
