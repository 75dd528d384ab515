// Package evm canonicalizes Ethereum-style addresses.
package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenguard/tokenguard"
)

// Normalizer canonicalizes 0x-prefixed hex addresses to their EIP-55
// checksum form, so case variants of one address share a single lock and
// failure record.
type Normalizer struct{}

var _ tokenguard.IdentityNormalizer = Normalizer{}

// Normalize validates the address shape and returns the checksummed form.
func (Normalizer) Normalize(identity string) (string, error) {
	address := strings.TrimSpace(identity)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid evm address %q", identity)
	}
	return common.HexToAddress(address).Hex(), nil
}
