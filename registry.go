package tokenguard

import "strings"

// AssetRef is one well-known asset in the spoofing reference list.
type AssetRef struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// defaultAssets covers the majors most commonly impersonated.
var defaultAssets = []AssetRef{
	{Symbol: "BTC", Name: "Bitcoin"},
	{Symbol: "ETH", Name: "Ethereum"},
	{Symbol: "WETH", Name: "Wrapped Ether"},
	{Symbol: "SOL", Name: "Solana"},
	{Symbol: "USDC", Name: "USD Coin"},
	{Symbol: "USDT", Name: "Tether"},
	{Symbol: "BNB", Name: "BNB"},
	{Symbol: "XRP", Name: "XRP"},
	{Symbol: "DOGE", Name: "Dogecoin"},
	{Symbol: "ADA", Name: "Cardano"},
	{Symbol: "AVAX", Name: "Avalanche"},
	{Symbol: "LINK", Name: "Chainlink"},
	{Symbol: "UNI", Name: "Uniswap"},
	{Symbol: "DAI", Name: "Dai"},
	{Symbol: "TRX", Name: "TRON"},
}

// AssetRegistry holds the reference list the spoofing check matches
// candidates against. Matching is case-insensitive substring containment in
// either direction. The registry is immutable once built, so it is safe for
// concurrent use without locking.
type AssetRegistry struct {
	refs []AssetRef
	// lowered mirrors refs with pre-lowercased symbol and name.
	lowered []AssetRef
}

// NewAssetRegistry builds a registry from the default list plus any extra
// entries. Entries with both fields empty are dropped.
func NewAssetRegistry(extra ...AssetRef) *AssetRegistry {
	refs := make([]AssetRef, 0, len(defaultAssets)+len(extra))
	refs = append(refs, defaultAssets...)
	for _, ref := range extra {
		if ref.Symbol == "" && ref.Name == "" {
			continue
		}
		refs = append(refs, ref)
	}

	lowered := make([]AssetRef, len(refs))
	for i, ref := range refs {
		lowered[i] = AssetRef{
			Symbol: strings.ToLower(ref.Symbol),
			Name:   strings.ToLower(ref.Name),
		}
	}
	return &AssetRegistry{refs: refs, lowered: lowered}
}

// Match returns the first reference entry that matches the candidate by
// case-insensitive containment in either direction: the candidate containing
// the reference or the reference containing the candidate both count. This
// is deliberately permissive, preferring false positives over missed
// spoofing, since a match only ever produces an advisory warning.
func (r *AssetRegistry) Match(candidate string) (AssetRef, bool) {
	c := strings.ToLower(strings.TrimSpace(candidate))
	if c == "" {
		return AssetRef{}, false
	}
	for i, low := range r.lowered {
		if contains(c, low.Symbol) || contains(c, low.Name) {
			return r.refs[i], true
		}
	}
	return AssetRef{}, false
}

// contains reports bidirectional substring containment of two non-empty
// lowercase strings.
func contains(candidate, ref string) bool {
	if ref == "" {
		return false
	}
	return strings.Contains(candidate, ref) || strings.Contains(ref, candidate)
}

// Refs returns a copy of the reference list.
func (r *AssetRegistry) Refs() []AssetRef {
	out := make([]AssetRef, len(r.refs))
	copy(out, r.refs)
	return out
}

// Len returns the number of reference entries.
func (r *AssetRegistry) Len() int {
	return len(r.refs)
}
