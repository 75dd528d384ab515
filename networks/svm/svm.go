// Package svm canonicalizes Solana-style public keys.
package svm

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/tokenguard/tokenguard"
)

// Normalizer validates base58 public keys and re-encodes them from the
// decoded 32 bytes, collapsing cosmetic encoding differences.
type Normalizer struct{}

var _ tokenguard.IdentityNormalizer = Normalizer{}

// Normalize parses the key and returns its canonical base58 form.
func (Normalizer) Normalize(identity string) (string, error) {
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(identity))
	if err != nil {
		return "", fmt.Errorf("invalid solana public key %q: %w", identity, err)
	}
	return key.String(), nil
}
