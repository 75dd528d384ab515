package tokenguard

import "testing"

func TestAssetRegistry_Match(t *testing.T) {
	registry := NewAssetRegistry()

	tests := []struct {
		candidate string
		symbol    string
		matched   bool
	}{
		{"BTC", "BTC", true},
		{"btc", "BTC", true},
		{"  Bitcoin  ", "BTC", true},
		{"Bitcoin Classic", "BTC", true},
		{"coin", "BTC", true}, // "coin" is contained in "bitcoin"
		{"Tether USD", "ETH", true}, // "eth" hides inside "tether"; first match wins
		{"USDT", "USDT", true},
		{"GRDP", "", false},
		{"Guardian Points", "", false},
		{"", "", false},
		{"   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			ref, ok := registry.Match(tt.candidate)
			if ok != tt.matched {
				t.Fatalf("Match(%q) = %v, want %v", tt.candidate, ok, tt.matched)
			}
			if ok && ref.Symbol != tt.symbol {
				t.Errorf("Match(%q) returned %s, want %s", tt.candidate, ref.Symbol, tt.symbol)
			}
		})
	}
}

func TestAssetRegistry_ExtraEntries(t *testing.T) {
	registry := NewAssetRegistry(
		AssetRef{Symbol: "ACME", Name: "Acme Credit"},
		AssetRef{}, // empty entries are dropped
	)

	if registry.Len() != len(defaultAssets)+1 {
		t.Errorf("Len() = %d, want %d", registry.Len(), len(defaultAssets)+1)
	}
	if _, ok := registry.Match("acme credit token"); !ok {
		t.Error("extra entry should match")
	}
}

func TestAssetRegistry_RefsIsACopy(t *testing.T) {
	registry := NewAssetRegistry()
	refs := registry.Refs()
	refs[0] = AssetRef{Symbol: "HACK", Name: "Hacked"}

	if ref, ok := registry.Match("Bitcoin"); !ok || ref.Symbol != "BTC" {
		t.Error("mutating the returned slice must not affect the registry")
	}
}
