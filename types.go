package tokenguard

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind is a closed category of mutating action. Locks are scoped
// per kind, so one identity can hold at most one lock per category.
type OperationKind string

// Supported operation kinds
const (
	OperationValidation  OperationKind = "validation"
	OperationIssuance    OperationKind = "issuance"
	OperationTransaction OperationKind = "transaction"
)

// OperationKinds lists every supported kind.
func OperationKinds() []OperationKind {
	return []OperationKind{OperationValidation, OperationIssuance, OperationTransaction}
}

// ParseOperationKind converts a string into an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	kind := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
	return kind, nil
}

// Valid reports whether the kind is one of the supported categories.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationValidation, OperationIssuance, OperationTransaction:
		return true
	}
	return false
}

func (k OperationKind) String() string {
	return string(k)
}

// AssetPayload is the externally supplied description of a proposed token.
// It is treated as immutable input: validation checks read it and attach
// warnings elsewhere, they never mutate its fields.
//
// Supply is an arbitrary-precision non-negative integer serialized as a
// base-10 numeric string. ClientTimestamp is the optional client-asserted
// creation time used by the temporal consistency check.
type AssetPayload struct {
	Name            string     `json:"name"`
	Symbol          string     `json:"symbol"`
	Decimals        uint8      `json:"decimals"`
	Supply          string     `json:"supply"`
	Description     string     `json:"description,omitempty"`
	IconURL         string     `json:"iconUrl,omitempty"`
	Network         string     `json:"network,omitempty"`
	ClientTimestamp *time.Time `json:"clientTimestamp,omitempty"`
}

// WarningKind classifies an advisory validation warning.
type WarningKind string

// Warning kinds
const (
	WarningSpoofing  WarningKind = "spoofing"
	WarningSupply    WarningKind = "supply"
	WarningTimestamp WarningKind = "timestamp"
)

// Warning is a non-blocking signal attached to a request for downstream
// review. Warnings are produced per request and never persisted by the
// pipeline itself.
type Warning struct {
	Kind        WarningKind            `json:"kind"`
	Message     string                 `json:"message"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	Remediation string                 `json:"remediation,omitempty"`
}

// CheckFailure records an internal error caught inside a single validation
// check. It is distinct from a validation warning: the failed check simply
// produced no result, and sibling checks were unaffected.
type CheckFailure struct {
	Check string `json:"check"`
	Err   string `json:"error"`
}

// ValidationReport is the outcome of running the validation pipeline over
// one payload.
type ValidationReport struct {
	Warnings []Warning      `json:"warnings,omitempty"`
	Failures []CheckFailure `json:"failures,omitempty"`
}

// Warned reports whether any check attached a warning.
func (r ValidationReport) Warned() bool {
	return len(r.Warnings) > 0
}

// IdentityNormalizer canonicalizes an identity string so that differently
// encoded forms of the same actor share one lock and one failure record.
// Implementations must be safe for concurrent use.
type IdentityNormalizer interface {
	Normalize(identity string) (string, error)
}

// passthroughNormalizer trims whitespace and nothing else.
type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(identity string) (string, error) {
	return strings.TrimSpace(identity), nil
}
