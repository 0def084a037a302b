package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nexus/internal/game"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "NEXUS_API_ADDR", "DATABASE_URL", "SUPABASE_JWT_SECRET", "NEXUS_POLICY_FILE",
		"NEXUS_DISCORD_TOKEN", "NEXUS_DISCORD_CHANNEL_ID", "NEXUS_ANNOUNCE_MIN_COINS",
		"NEXUS_RATE_PER_MINUTE", "NEXUS_LOG_LEVEL", "NEXUS_ELECTION_SWEEP_EVERY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAPIFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("NEXUS_STORE", "sqlite")
	t.Setenv("NEXUS_SQLITE_PATH", "/tmp/realm.db")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("NEXUS_RATE_PER_MINUTE", "30")
	t.Setenv("NEXUS_LOG_LEVEL", "debug")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("LoadAPIFromEnv: %v", err)
	}
	want := APIConfig{
		Addr:            ":9090",
		Store:           StoreConfig{Kind: StoreSQLite, SQLitePath: "/tmp/realm.db"},
		SupabaseURL:     "https://example.supabase.co",
		SupabaseAnonKey: "anon",
		RatePerMinute:   30,
		Announce:        AnnounceConfig{MinCoins: 500},
		LogLevel:        slog.LevelDebug,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Announce.Enabled() {
		t.Fatalf("announcer should be disabled without a token")
	}
}

func TestLoadAPIFromEnvRequiresDatabaseForPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEXUS_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")

	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected DATABASE_URL error")
	}

	t.Setenv("NEXUS_STORE", "mongo")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected unknown store error")
	}
}

func TestLoadWorkerFromEnvSweep(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEXUS_STORE", "sqlite")
	t.Setenv("NEXUS_ELECTION_SWEEP_EVERY", "90s")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("LoadWorkerFromEnv: %v", err)
	}
	if cfg.ElectionSweepEvery != 90*time.Second {
		t.Fatalf("sweep = %s, want 90s", cfg.ElectionSweepEvery)
	}
}

func TestParsePolicyOverlaysDefaults(t *testing.T) {
	p, err := ParsePolicy([]byte(`
max_raid_party: 10
attack_cooldown: 3h
tier_multipliers: [1, 2, 4, 8]
`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	want := game.DefaultPolicy()
	want.MaxRaidParty = 10
	want.AttackCooldown = 3 * time.Hour
	want.TierMultipliers = []int64{1, 2, 4, 8}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("policy mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePolicyRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unknown key", "max_raid_parties: 3\n"},
		{"bad tiers", "tier_multipliers: [1, 2]\n"},
		{"inverted steal", "steal_min_bps: 2000\nsteal_max_bps: 1000\n"},
		{"negative attack delta", "attack_loss_delta: -5\n"},
		{"negative defense delta", "defense_win_delta: -1\n"},
	}
	for _, tc := range tests {
		if _, err := ParsePolicy([]byte(tc.in)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLoadPolicyEmptyPathAndEmptyFile(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy empty path: %v", err)
	}
	if diff := cmp.Diff(game.DefaultPolicy(), p); diff != "" {
		t.Fatalf("defaults mismatch:\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err != nil {
		t.Fatalf("LoadPolicy empty file: %v", err)
	}
}
