package networks

import (
	"github.com/tokenguard/tokenguard/networks/evm"
	"github.com/tokenguard/tokenguard/networks/svm"
)

// Default returns a resolver with the built-in namespaces registered.
func Default() *Resolver {
	r := NewResolver()
	r.Register(NamespaceEVM, evm.Normalizer{})
	r.Register(NamespaceSVM, svm.Normalizer{})
	return r
}
