// Package health provides dependency health checks and the ops HTTP handlers
// that report them.
package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks connectivity to the settings cache.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends a PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
