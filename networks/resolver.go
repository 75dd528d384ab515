// Package networks routes namespaced wallet identities to per-network
// canonicalizers so differently encoded forms of the same actor share one
// lock and one failure record.
//
// Identities carry an optional namespace prefix, e.g. "evm:0xAbC..." or
// "svm:EPjF...". The namespace selects the registered normalizer; the
// canonical output keeps the prefix. Identities without a prefix, or with a
// namespace nothing is registered for, pass through trimmed.
package networks

import (
	"fmt"
	"strings"

	"github.com/tokenguard/tokenguard"
)

// Built-in namespaces
const (
	// NamespaceEVM covers Ethereum-style 0x hex addresses.
	NamespaceEVM = "evm"
	// NamespaceSVM covers Solana-style base58 public keys.
	NamespaceSVM = "svm"
)

// Resolver dispatches identities to the normalizer registered for their
// namespace. Register every namespace at startup; a built Resolver is
// read-only and safe for concurrent use.
type Resolver struct {
	byNamespace map[string]tokenguard.IdentityNormalizer
}

var _ tokenguard.IdentityNormalizer = (*Resolver)(nil)

// NewResolver creates an empty resolver. Every identity passes through
// until namespaces are registered.
func NewResolver() *Resolver {
	return &Resolver{byNamespace: make(map[string]tokenguard.IdentityNormalizer)}
}

// Register installs a normalizer for a namespace, replacing any previous
// one. Namespaces are case-insensitive. Not safe to call concurrently with
// Normalize.
func (r *Resolver) Register(namespace string, normalizer tokenguard.IdentityNormalizer) {
	namespace = strings.ToLower(strings.TrimSpace(namespace))
	if namespace == "" || normalizer == nil {
		return
	}
	r.byNamespace[namespace] = normalizer
}

// Normalize canonicalizes a namespaced identity. A malformed identity under
// a registered namespace is an error; unknown namespaces and bare identities
// pass through trimmed, preserving lock semantics for opaque identifiers.
func (r *Resolver) Normalize(identity string) (string, error) {
	identity = strings.TrimSpace(identity)

	sep := strings.Index(identity, ":")
	if sep < 0 {
		return identity, nil
	}
	namespace := strings.ToLower(identity[:sep])
	normalizer, ok := r.byNamespace[namespace]
	if !ok {
		return identity, nil
	}

	canonical, err := normalizer.Normalize(identity[sep+1:])
	if err != nil {
		return "", fmt.Errorf("namespace %s: %w", namespace, err)
	}
	return namespace + ":" + canonical, nil
}

// Namespaces lists the registered namespaces.
func (r *Resolver) Namespaces() []string {
	out := make([]string, 0, len(r.byNamespace))
	for namespace := range r.byNamespace {
		out = append(out, namespace)
	}
	return out
}
