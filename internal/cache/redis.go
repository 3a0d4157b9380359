package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"certportal/internal/config"
)

// NewRedisClient connects as "<prefix>:<name>" so api and worker
// connections can be told apart in CLIENT LIST.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, name string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: Key(cfg.KeyPrefix, name),
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// Key namespaces parts under prefix. Empty parts are skipped.
func Key(prefix string, parts ...string) string {
	keep := make([]string, 0, len(parts)+1)
	for _, p := range append([]string{prefix}, parts...) {
		if p = strings.Trim(p, ":"); p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, ":")
}
