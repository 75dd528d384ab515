package tokenguard

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"pkt.systems/pslog"
)

// Validation defaults
const (
	// DefaultMaxTimestampSkew is the largest tolerated difference between
	// the server-observed and client-asserted timestamps.
	DefaultMaxTimestampSkew = 5 * time.Minute
)

// DefaultSupplyCeiling returns 10^27, the magnitude at which a token's
// total supply (supply scaled by 10^decimals) is flagged as anomalous.
// Legitimate high-decimal tokens exist, so reaching the ceiling warns and
// never hard-fails.
func DefaultSupplyCeiling() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
}

// Check names, stable identifiers used in failure reports and events.
const (
	checkSpoofingName  = "spoofing"
	checkSupplyName    = "supply_magnitude"
	checkTimestampName = "timestamp_consistency"
)

type check struct {
	name string
	run  func(v *Validator, payload AssetPayload) ([]Warning, error)
}

// Validator runs a sequence of independent, side-effect-free checks over a
// proposed payload, accumulating advisory warnings. Checks are isolated
// from one another: an internal error or panic inside one check is caught,
// logged, reported in the result, and never aborts sibling checks or the
// request. Check results are order-insensitive.
type Validator struct {
	registry *AssetRegistry
	ceiling  *big.Int
	maxSkew  time.Duration
	clock    Clock
	logger   pslog.Logger
	checks   []check
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithRegistry sets the spoofing reference list. Default: the built-in
// well-known asset list.
func WithRegistry(registry *AssetRegistry) ValidatorOption {
	return func(v *Validator) {
		if registry != nil {
			v.registry = registry
		}
	}
}

// WithSupplyCeiling sets the anomaly ceiling for supply x 10^decimals.
// Default: 10^27.
func WithSupplyCeiling(ceiling *big.Int) ValidatorOption {
	return func(v *Validator) {
		if ceiling != nil && ceiling.Sign() > 0 {
			v.ceiling = new(big.Int).Set(ceiling)
		}
	}
}

// WithTimestampSkew sets the tolerated client/server timestamp difference.
// Default: 5 minutes.
func WithTimestampSkew(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithChecks restricts the pipeline to the named warning kinds. Unknown
// kinds are ignored. Default: all checks.
func WithChecks(kinds ...WarningKind) ValidatorOption {
	return func(v *Validator) {
		var checks []check
		for _, kind := range kinds {
			switch kind {
			case WarningSpoofing:
				checks = append(checks, check{checkSpoofingName, checkSpoofing})
			case WarningSupply:
				checks = append(checks, check{checkSupplyName, checkSupply})
			case WarningTimestamp:
				checks = append(checks, check{checkTimestampName, checkTimestamp})
			}
		}
		if len(checks) > 0 {
			v.checks = checks
		}
	}
}

// WithValidationClock sets the time source for the temporal check.
// Default: the wall clock.
func WithValidationClock(clock Clock) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithValidationLogger sets the logger for caught check failures.
func WithValidationLogger(logger pslog.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a pipeline with all three checks enabled.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		registry: NewAssetRegistry(),
		ceiling:  DefaultSupplyCeiling(),
		maxSkew:  DefaultMaxTimestampSkew,
		clock:    RealClock{},
		logger:   pslog.NoopLogger(),
		checks: []check{
			{checkSpoofingName, checkSpoofing},
			{checkSupplyName, checkSupply},
			{checkTimestampName, checkTimestamp},
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every configured check over the payload. The payload is
// never mutated. A check that fails internally contributes a CheckFailure
// instead of warnings; the remaining checks still run.
func (v *Validator) Validate(_ context.Context, payload AssetPayload) ValidationReport {
	var report ValidationReport
	for _, c := range v.checks {
		warnings, err := v.runCheck(c, payload)
		if err != nil {
			v.logger.Warn("validation check failed",
				"check", c.name,
				"error", err,
			)
			report.Failures = append(report.Failures, CheckFailure{Check: c.name, Err: err.Error()})
			continue
		}
		report.Warnings = append(report.Warnings, warnings...)
	}
	return report
}

// runCheck isolates a single check so a panic cannot take down its siblings.
func (v *Validator) runCheck(c check, payload AssetPayload) (warnings []Warning, err error) {
	defer func() {
		if r := recover(); r != nil {
			warnings = nil
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return c.run(v, payload)
}

// Registry returns the spoofing reference list in use.
func (v *Validator) Registry() *AssetRegistry {
	return v.registry
}

// checkSpoofing flags names and symbols that resemble well-known assets.
// Empty fields are skipped.
func checkSpoofing(v *Validator, payload AssetPayload) ([]Warning, error) {
	fields := []struct {
		field string
		value string
	}{
		{"name", payload.Name},
		{"symbol", payload.Symbol},
	}

	var warnings []Warning
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		ref, matched := v.registry.Match(f.value)
		if !matched {
			continue
		}
		warnings = append(warnings, Warning{
			Kind: WarningSpoofing,
			Message: fmt.Sprintf("token %s %q resembles well-known asset %s (%s)",
				f.field, f.value, ref.Symbol, ref.Name),
			Detail: map[string]interface{}{
				"field":         f.field,
				"candidate":     f.value,
				"matchedSymbol": ref.Symbol,
				"matchedName":   ref.Name,
			},
			Remediation: "choose a name and symbol that do not resemble existing assets",
		})
	}
	return warnings, nil
}

// checkSupply flags total supplies at or above the configured ceiling.
// supply x 10^decimals is computed with arbitrary precision: decimal counts
// up to 18 make fixed-width arithmetic unsafe.
func checkSupply(v *Validator, payload AssetPayload) ([]Warning, error) {
	raw := strings.TrimSpace(payload.Supply)
	supply, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("supply %q is not a base-10 integer", payload.Supply)
	}
	if supply.Sign() < 0 {
		return nil, fmt.Errorf("supply %q is negative", payload.Supply)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(payload.Decimals)), nil)
	total := new(big.Int).Mul(supply, scale)
	if total.Cmp(v.ceiling) < 0 {
		return nil, nil
	}
	return []Warning{{
		Kind: WarningSupply,
		Message: fmt.Sprintf("total supply %s (supply %s, decimals %d) reaches the anomaly ceiling %s",
			total.String(), raw, payload.Decimals, v.ceiling.String()),
		Detail: map[string]interface{}{
			"supply":      raw,
			"decimals":    int(payload.Decimals),
			"totalSupply": total.String(),
			"ceiling":     v.ceiling.String(),
		},
		Remediation: "double-check the supply and decimals, the combination is unusually large",
	}}, nil
}

// checkTimestamp flags client-asserted timestamps too far from server time,
// a possible replay, clock-skew, or manipulation signal. A missing client
// timestamp skips the check entirely.
func checkTimestamp(v *Validator, payload AssetPayload) ([]Warning, error) {
	if payload.ClientTimestamp == nil {
		return nil, nil
	}

	now := v.clock.Now()
	skew := now.Sub(*payload.ClientTimestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew <= v.maxSkew {
		return nil, nil
	}
	return []Warning{{
		Kind: WarningTimestamp,
		Message: fmt.Sprintf("client timestamp differs from server time by %s (tolerance %s)",
			skew.Truncate(time.Second), v.maxSkew),
		Detail: map[string]interface{}{
			"clientTimestamp": payload.ClientTimestamp.UTC().Format(time.RFC3339),
			"serverTimestamp": now.UTC().Format(time.RFC3339),
			"skewSeconds":     int64(skew / time.Second),
		},
		Remediation: "sync the client clock or resubmit with a fresh timestamp",
	}}, nil
}
