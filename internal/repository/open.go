package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"certportal/internal/config"
	"certportal/internal/database"
)

func Open(ctx context.Context, cfg *config.AppConfig) (Store, error) {
	var store Store
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		store = NewPostgresStore(pool)
	case config.StoreDriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Bolt.Path), 0o755); err != nil {
			return nil, fmt.Errorf("bolt dir: %w", err)
		}
		bolt, err := NewBoltStore(cfg.Bolt.Path, cfg.Bolt.Timeout)
		if err != nil {
			return nil, err
		}
		store = bolt
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.CacheTTL > 0 {
		return NewCachedStore(store, cfg.Store.CacheTTL, nil), nil
	}
	return store, nil
}
