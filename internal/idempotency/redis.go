package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard stores claims as expiring Redis keys so they are shared by
// every replica.
type RedisGuard struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisGuard)

func WithPrefix(prefix string) RedisOption {
	return func(g *RedisGuard) { g.prefix = strings.Trim(prefix, ":") }
}

func NewRedisGuard(rdb redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *RedisGuard {
	g := &RedisGuard{
		rdb:    rdb,
		prefix: "fravik:idempotency",
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisGuard) key(k string) string {
	return g.prefix + ":" + k
}

// Claim sets the key if absent and reports whether it was set.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.key(key), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, g.key(key)).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
