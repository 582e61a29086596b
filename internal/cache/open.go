package cache

import (
	"context"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
)

// Open returns the configured Cache backend. An unrecognized backend never
// reaches here: config.Validate restricts CacheConfig.Backend to
// "memory"/"redis" at load time.
func Open(ctx context.Context, cfg *config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisCache(ctx, cfg.RedisURL)
	case "memory", "":
		return NewMemoryCache(cfg.Capacity), nil
	default:
		return nil, apperrors.NewInput("unknown cache backend %q", cfg.Backend)
	}
}
