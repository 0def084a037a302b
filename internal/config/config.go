package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type StoreConfig struct {
	Kind        string
	DatabaseURL string
	SQLitePath  string
}

type AnnounceConfig struct {
	DiscordToken     string
	DiscordChannelID string
	MinCoins         int64
}

func (c AnnounceConfig) Enabled() bool {
	return c.DiscordToken != "" && c.DiscordChannelID != ""
}

type APIConfig struct {
	Addr              string
	Store             StoreConfig
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string
	PolicyFile        string
	RatePerMinute     int
	Announce          AnnounceConfig
	LogLevel          slog.Level
}

type WorkerConfig struct {
	Store              StoreConfig
	PolicyFile         string
	ElectionSweepEvery time.Duration
	Announce           AnnounceConfig
	LogLevel           slog.Level
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads .env from the working directory when there is one. Real
// environment variables win over the file.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("NEXUS_API_ADDR", ":8080")
	}

	store, err := loadStore()
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:              addr,
		Store:             store,
		SupabaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:   strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		SupabaseJWTSecret: strings.TrimSpace(os.Getenv("SUPABASE_JWT_SECRET")),
		PolicyFile:        strings.TrimSpace(os.Getenv("NEXUS_POLICY_FILE")),
		RatePerMinute:     envIntDefault("NEXUS_RATE_PER_MINUTE", 120),
		Announce:          loadAnnounce(),
		LogLevel:          envLevelDefault("NEXUS_LOG_LEVEL", slog.LevelInfo),
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.RatePerMinute < 0 {
		return cfg, fmt.Errorf("NEXUS_RATE_PER_MINUTE must be >= 0")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	store, err := loadStore()
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		Store:              store,
		PolicyFile:         strings.TrimSpace(os.Getenv("NEXUS_POLICY_FILE")),
		ElectionSweepEvery: envDurationDefault("NEXUS_ELECTION_SWEEP_EVERY", 5*time.Minute),
		Announce:           loadAnnounce(),
		LogLevel:           envLevelDefault("NEXUS_LOG_LEVEL", slog.LevelInfo),
	}
	if cfg.ElectionSweepEvery <= 0 {
		return cfg, fmt.Errorf("NEXUS_ELECTION_SWEEP_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("NXS_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadStore() (StoreConfig, error) {
	cfg := StoreConfig{
		Kind:        strings.ToLower(envDefault("NEXUS_STORE", StorePostgres)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  envDefault("NEXUS_SQLITE_PATH", "nexus.db"),
	}
	switch cfg.Kind {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreSQLite:
	default:
		return cfg, fmt.Errorf("NEXUS_STORE must be %q or %q, got %q", StorePostgres, StoreSQLite, cfg.Kind)
	}
	return cfg, nil
}

func loadAnnounce() AnnounceConfig {
	return AnnounceConfig{
		DiscordToken:     strings.TrimSpace(os.Getenv("NEXUS_DISCORD_TOKEN")),
		DiscordChannelID: strings.TrimSpace(os.Getenv("NEXUS_DISCORD_CHANNEL_ID")),
		MinCoins:         int64(envIntDefault("NEXUS_ANNOUNCE_MIN_COINS", 500)),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
