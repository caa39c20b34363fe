package claim

// ToConnectorAttributes partitions claims per identity-store connector using
// the domain's mapping table. Claims with no mapping are dropped: an unmapped
// claim has nowhere to go on the write path.
//
// The returned map is keyed by connector ID. Attribute order within each
// connector follows the input claim order.
func ToConnectorAttributes(claims []Claim, mappings []MetaClaimMapping) map[string][]Attribute {
	attrs := make(map[string][]Attribute)
	for _, c := range claims {
		for _, m := range mappings {
			if !m.Matches(c) {
				continue
			}
			attrs[m.ConnectorID] = append(attrs[m.ConnectorID], Attribute{
				Name:  m.AttributeName,
				Value: c.Value,
			})
			break
		}
	}
	return attrs
}

// ToClaims is the inverse of ToConnectorAttributes: it rebuilds claims from
// per-connector attribute lists. Attributes without a known mapping are
// skipped; connectors with no attributes contribute nothing.
func ToClaims(mappings []MetaClaimMapping, attrs map[string][]Attribute) []Claim {
	var claims []Claim
	for connectorID, list := range attrs {
		if len(list) == 0 {
			continue
		}
		for _, a := range list {
			for _, m := range mappings {
				if m.ConnectorID != connectorID || m.AttributeName != a.Name {
					continue
				}
				claims = append(claims, Claim{
					DialectURI: m.MetaClaim.DialectURI,
					ClaimURI:   m.MetaClaim.ClaimURI,
					Value:      a.Value,
				})
				break
			}
		}
	}
	return claims
}

// AttributeNamesByConnector resolves a MetaClaim filter to the per-connector
// attribute names it selects. MetaClaims with an empty claim URI or with no
// mapping in the table are ignored.
func AttributeNamesByConnector(metaClaims []MetaClaim, mappings []MetaClaimMapping) map[string][]string {
	names := make(map[string][]string)
	for _, mc := range metaClaims {
		if mc.ClaimURI == "" {
			continue
		}
		for _, m := range mappings {
			if m.MetaClaim.DialectURI != mc.DialectURI || m.MetaClaim.ClaimURI != mc.ClaimURI {
				continue
			}
			names[m.ConnectorID] = append(names[m.ConnectorID], m.AttributeName)
			break
		}
	}
	return names
}
