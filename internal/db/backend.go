package db

import (
	"context"
	"fmt"

	"nexus/internal/config"
	"nexus/internal/db/sqlite"
	"nexus/internal/game"
)

// Backend is a realm store that the binaries can health check.
type Backend interface {
	game.Store
	Ping(ctx context.Context) error
}

// OpenBackend opens the store selected by cfg.Kind. The returned func
// releases it.
func OpenBackend(ctx context.Context, cfg config.StoreConfig) (Backend, func(), error) {
	switch cfg.Kind {
	case config.StorePostgres:
		s, err := Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}
