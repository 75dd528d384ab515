package evm

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	var n Normalizer

	// EIP-55 reference vectors: all case variants map to the checksum form.
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		for _, in := range []string{want, strings.ToLower(want), "  " + want + "  "} {
			got, err := n.Normalize(in)
			if err != nil {
				t.Errorf("Normalize(%q): %v", in, err)
				continue
			}
			if got != want {
				t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
			}
		}
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	var n Normalizer
	for _, in := range []string{"", "0x123", "not-an-address", "0xZZeb6053f3e94c9b9a09f33669435e7ef1beaed"} {
		if _, err := n.Normalize(in); err == nil {
			t.Errorf("Normalize(%q) should error", in)
		}
	}
}
