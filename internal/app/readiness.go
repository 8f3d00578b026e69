package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// BuildReadinessChecks returns the dependency probes served by /readyz. The
// redis check is nil when rate limiting is disabled.
func BuildReadinessChecks(pool *pgxpool.Pool, rdb *redis.Client) (dbCheck, redisCheck func(context.Context) error) {
	dbCheck = func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("op=readiness.db: %w", err)
		}
		return nil
	}
	if rdb != nil {
		redisCheck = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("op=readiness.redis: %w", err)
			}
			return nil
		}
	}
	return dbCheck, redisCheck
}
