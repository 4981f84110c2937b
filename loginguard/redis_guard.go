package loginguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisGuard shares failure counters between server processes through Redis.
type redisGuard struct {
	client      *redis.Client
	maxFailures int
	window      time.Duration
	prefix      string
}

// NewRedisGuard creates a Guard backed by Redis INCR/EXPIRE counters.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	guard := NewRedisGuard(client, 5, time.Minute, "chat:login-failures:")
//
// Parameters:
//   - client: Connected Redis client
//   - maxFailures: Failures within window after which a host is blocked; 0 disables blocking
//   - window: Lifetime of a host's failure counter
//   - prefix: Key prefix for counters
//
// Returns:
//   - A Guard using Redis for storage
func NewRedisGuard(client *redis.Client, maxFailures int, window time.Duration, prefix string) Guard {
	return &redisGuard{
		client:      client,
		maxFailures: maxFailures,
		window:      window,
		prefix:      prefix,
	}
}

func (g *redisGuard) key(host string) string {
	return g.prefix + host
}

// Blocked implements Guard.
func (g *redisGuard) Blocked(ctx context.Context, host string) (bool, error) {
	if g.maxFailures <= 0 {
		return false, nil
	}

	n, err := g.client.Get(ctx, g.key(host)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("redis get error: %w", err)
	}

	return n >= g.maxFailures, nil
}

// Fail implements Guard. The window starts at the first failure.
func (g *redisGuard) Fail(ctx context.Context, host string) error {
	key := g.key(host)
	n, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis incr error: %w", err)
	}

	if n == 1 && g.window > 0 {
		if err := g.client.Expire(ctx, key, g.window).Err(); err != nil {
			return fmt.Errorf("redis expire error: %w", err)
		}
	}

	return nil
}

// Reset implements Guard.
func (g *redisGuard) Reset(ctx context.Context, host string) error {
	if err := g.client.Del(ctx, g.key(host)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}

	return nil
}
