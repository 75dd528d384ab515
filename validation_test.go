package tokenguard

import (
	"context"
	"testing"
	"time"
)

func basePayload() AssetPayload {
	return AssetPayload{
		Name:     "Guardian Points",
		Symbol:   "GRDP",
		Decimals: 6,
		Supply:   "1000000",
	}
}

func warningKinds(report ValidationReport) map[WarningKind]int {
	kinds := make(map[WarningKind]int)
	for _, w := range report.Warnings {
		kinds[w.Kind]++
	}
	return kinds
}

func TestValidator_CleanPayloadNoWarnings(t *testing.T) {
	v := NewValidator(WithValidationClock(testClock()))

	report := v.Validate(context.Background(), basePayload())
	if report.Warned() {
		t.Errorf("expected no warnings, got %+v", report.Warnings)
	}
	if len(report.Failures) != 0 {
		t.Errorf("expected no failures, got %+v", report.Failures)
	}
}

func TestValidator_SpoofingCheck(t *testing.T) {
	tests := []struct {
		name    string
		payload AssetPayload
		want    int
	}{
		{
			name: "exact name match",
			payload: AssetPayload{
				Name: "Bitcoin", Symbol: "NOPE", Decimals: 0, Supply: "1",
			},
			want: 1,
		},
		{
			name: "reference contained in candidate",
			payload: AssetPayload{
				Name: "Bitcoin2", Symbol: "NOPE", Decimals: 0, Supply: "1",
			},
			want: 1,
		},
		{
			name: "candidate contained in reference",
			payload: AssetPayload{
				Name: "ethere", Symbol: "NOPE", Decimals: 0, Supply: "1",
			},
			want: 1,
		},
		{
			name: "case-insensitive symbol match",
			payload: AssetPayload{
				Name: "Original Name", Symbol: "usdc", Decimals: 0, Supply: "1",
			},
			want: 1,
		},
		{
			name: "both fields match yields two warnings",
			payload: AssetPayload{
				Name: "Wrapped Ether", Symbol: "WETH", Decimals: 0, Supply: "1",
			},
			want: 2,
		},
		{
			name: "unrelated name and symbol",
			payload: AssetPayload{
				Name: "MyCoolProject", Symbol: "MCPL", Decimals: 0, Supply: "1",
			},
			want: 0,
		},
	}

	v := NewValidator(WithValidationClock(testClock()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.Validate(context.Background(), tt.payload)
			if got := warningKinds(report)[WarningSpoofing]; got != tt.want {
				t.Errorf("spoofing warnings = %d, want %d (%+v)", got, tt.want, report.Warnings)
			}
		})
	}
}

func TestValidator_SpoofingCustomRegistry(t *testing.T) {
	registry := NewAssetRegistry(AssetRef{Symbol: "ACME", Name: "Acme Internal Credit"})
	v := NewValidator(
		WithValidationClock(testClock()),
		WithRegistry(registry),
	)

	payload := basePayload()
	payload.Name = "Acme Internal Credits"
	report := v.Validate(context.Background(), payload)
	if got := warningKinds(report)[WarningSpoofing]; got != 1 {
		t.Errorf("expected custom registry entry to match, got %+v", report.Warnings)
	}
}

func TestValidator_SupplyCheck(t *testing.T) {
	tests := []struct {
		name     string
		supply   string
		decimals uint8
		warn     bool
	}{
		// 1 x 10^27 sits exactly on the ceiling and is flagged.
		{"one with 27 decimals", "1", 27, true},
		{"exactly 10^27 with no decimals", "1000000000000000000000000000", 0, true},
		{"one under the ceiling", "999999999999999999999999999", 0, false},
		{"one with no decimals", "1", 0, false},
		{"typical erc20 shape", "1000000000", 18, true},
		{"moderate erc20 shape", "100000000", 18, false},
		{"zero supply", "0", 18, false},
	}

	v := NewValidator(WithValidationClock(testClock()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := basePayload()
			payload.Supply = tt.supply
			payload.Decimals = tt.decimals
			report := v.Validate(context.Background(), payload)
			if got := warningKinds(report)[WarningSupply] > 0; got != tt.warn {
				t.Errorf("supply warning = %v, want %v (%+v)", got, tt.warn, report.Warnings)
			}
			if len(report.Failures) != 0 {
				t.Errorf("unexpected failures: %+v", report.Failures)
			}
		})
	}
}

func TestValidator_SupplyCheckCustomCeiling(t *testing.T) {
	ceiling, _ := DefaultSupplyCeiling().SetString("1000000", 10)
	v := NewValidator(
		WithValidationClock(testClock()),
		WithSupplyCeiling(ceiling),
	)

	payload := basePayload()
	payload.Supply = "1"
	payload.Decimals = 6
	report := v.Validate(context.Background(), payload)
	if got := warningKinds(report)[WarningSupply]; got != 1 {
		t.Errorf("expected lowered ceiling to flag 10^6, got %+v", report.Warnings)
	}
}

func TestValidator_MalformedSupplyFailsCheckOnly(t *testing.T) {
	v := NewValidator(WithValidationClock(testClock()))

	for _, supply := range []string{"", "12a", "1.5", "-10", "0x10"} {
		payload := AssetPayload{
			// Spoofed name proves sibling checks still ran.
			Name: "Bitcoin", Symbol: "GRDP", Decimals: 6, Supply: supply,
		}
		report := v.Validate(context.Background(), payload)
		if len(report.Failures) != 1 {
			t.Errorf("supply %q: expected one check failure, got %+v", supply, report.Failures)
			continue
		}
		if report.Failures[0].Check != "supply_magnitude" {
			t.Errorf("supply %q: failure attributed to %q", supply, report.Failures[0].Check)
		}
		if got := warningKinds(report)[WarningSpoofing]; got != 1 {
			t.Errorf("supply %q: sibling spoofing check should still run, got %+v", supply, report.Warnings)
		}
	}
}

func TestValidator_TimestampCheck(t *testing.T) {
	clock := testClock()
	now := clock.Now()

	tests := []struct {
		name   string
		client *time.Time
		warn   bool
	}{
		{"absent timestamp skips", nil, false},
		{"in sync", timePtr(now), false},
		{"one minute behind", timePtr(now.Add(-time.Minute)), false},
		{"exactly at tolerance", timePtr(now.Add(-5 * time.Minute)), false},
		{"ten minutes behind", timePtr(now.Add(-10 * time.Minute)), true},
		{"ten minutes ahead", timePtr(now.Add(10 * time.Minute)), true},
	}

	v := NewValidator(WithValidationClock(clock))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := basePayload()
			payload.ClientTimestamp = tt.client
			report := v.Validate(context.Background(), payload)
			if got := warningKinds(report)[WarningTimestamp] > 0; got != tt.warn {
				t.Errorf("timestamp warning = %v, want %v (%+v)", got, tt.warn, report.Warnings)
			}
		})
	}
}

func TestValidator_WithChecksSubset(t *testing.T) {
	clock := testClock()
	v := NewValidator(
		WithValidationClock(clock),
		WithChecks(WarningSupply),
	)

	// Spoofed name and stale timestamp, but only the supply check runs.
	stale := clock.Now().Add(-time.Hour)
	payload := AssetPayload{
		Name:            "Bitcoin",
		Symbol:          "BTC",
		Decimals:        27,
		Supply:          "1",
		ClientTimestamp: &stale,
	}
	report := v.Validate(context.Background(), payload)
	kinds := warningKinds(report)
	if kinds[WarningSupply] != 1 {
		t.Errorf("supply check should run, got %+v", report.Warnings)
	}
	if kinds[WarningSpoofing] != 0 || kinds[WarningTimestamp] != 0 {
		t.Errorf("disabled checks ran anyway: %+v", report.Warnings)
	}
}

func TestValidator_CheckPanicIsContained(t *testing.T) {
	v := NewValidator(WithValidationClock(testClock()))
	v.checks = append(v.checks, check{
		name: "exploding",
		run: func(*Validator, AssetPayload) ([]Warning, error) {
			panic("boom")
		},
	})

	report := v.Validate(context.Background(), basePayload())
	if len(report.Failures) != 1 || report.Failures[0].Check != "exploding" {
		t.Fatalf("expected the panicking check to be reported as failed, got %+v", report.Failures)
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
