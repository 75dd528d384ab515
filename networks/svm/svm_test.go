package svm

import "testing"

func TestNormalize(t *testing.T) {
	var n Normalizer

	// Well-known mainnet keys round-trip unchanged.
	keys := []string{
		"11111111111111111111111111111111",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
	}
	for _, key := range keys {
		got, err := n.Normalize("  " + key + "  ")
		if err != nil {
			t.Errorf("Normalize(%q): %v", key, err)
			continue
		}
		if got != key {
			t.Errorf("Normalize(%q) = %q", key, got)
		}
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	var n Normalizer
	for _, in := range []string{"", "abc", "not+base58", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"} {
		if _, err := n.Normalize(in); err == nil {
			t.Errorf("Normalize(%q) should error", in)
		}
	}
}
