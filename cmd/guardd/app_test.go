package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/tokenguard/tokenguard"
)

func TestParseTrustedAssets(t *testing.T) {
	refs, err := parseTrustedAssets([]string{"ACME=Acme Points", " PEPE = Pepe ", ""})
	if err != nil {
		t.Fatalf("parseTrustedAssets: %v", err)
	}
	want := []tokenguard.AssetRef{
		{Symbol: "ACME", Name: "Acme Points"},
		{Symbol: "PEPE", Name: "Pepe"},
	}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d", len(refs), len(want))
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %+v, want %+v", i, refs[i], want[i])
		}
	}

	for _, bad := range []string{"ACME", "=Acme", "ACME="} {
		if _, err := parseTrustedAssets([]string{bad}); err == nil {
			t.Errorf("parseTrustedAssets(%q) expected error", bad)
		}
	}
}

func TestOpenStoreValidation(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, config{Store: "memory"})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	_ = st.Close()

	if _, err := openStore(ctx, config{Store: "postgres"}); err == nil {
		t.Errorf("postgres without DSN expected error")
	}
	if _, err := openStore(ctx, config{Store: "clickhouse"}); err == nil {
		t.Errorf("clickhouse without DSN expected error")
	}
	if _, err := openStore(ctx, config{Store: "redis"}); err == nil {
		t.Errorf("unknown store expected error")
	}
}

func TestEnvBindings(t *testing.T) {
	t.Setenv("GUARDD_MAX_ATTEMPTS", "9")
	t.Setenv("GUARDD_LOCK_TTL", "45s")
	t.Setenv("GUARDD_STORE", "Memory")

	_ = newRootCommand(pslog.NoopLogger())

	cfg := configFromViper()
	if cfg.MaxAttempts != 9 {
		t.Errorf("MaxAttempts = %d, want 9", cfg.MaxAttempts)
	}
	if cfg.LockTTL != 45*time.Second {
		t.Errorf("LockTTL = %s, want 45s", cfg.LockTTL)
	}
	if cfg.Store != "memory" {
		t.Errorf("Store = %q, want memory (lowercased)", cfg.Store)
	}
}

func TestFlagDefaults(t *testing.T) {
	_ = newRootCommand(pslog.NoopLogger())

	if got := viper.GetDuration("lock-ttl"); got != tokenguard.DefaultLockTTL {
		t.Errorf("lock-ttl default = %s, want %s", got, tokenguard.DefaultLockTTL)
	}
	if got := viper.GetInt("max-attempts"); got != tokenguard.DefaultMaxAttempts {
		t.Errorf("max-attempts default = %d, want %d", got, tokenguard.DefaultMaxAttempts)
	}
	if got := viper.GetDuration("attempt-window"); got != tokenguard.DefaultAttemptWindow {
		t.Errorf("attempt-window default = %s, want %s", got, tokenguard.DefaultAttemptWindow)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "guardd ") || strings.TrimSpace(strings.TrimPrefix(got, "guardd")) == "" {
		t.Fatalf("unexpected version output %q", got)
	}
}
