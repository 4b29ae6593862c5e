package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

func exerciseGuard(t *testing.T, g guard) {
	t.Helper()
	ctx := context.Background()
	key := "S-1:" + uuid.NewString()

	ok, err := g.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second claim is a duplicate")

	require.NoError(t, g.Release(ctx, key))
	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "released key can be claimed again")
}

func TestMemoryGuard(t *testing.T) {
	exerciseGuard(t, NewMemoryGuard(time.Hour))
}

func TestMemoryGuard_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	g := NewMemoryGuard(time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ok, _ := g.Claim(ctx, "k")
	require.True(t, ok)

	now = now.Add(59 * time.Second)
	ok, _ = g.Claim(ctx, "k")
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, _ = g.Claim(ctx, "k")
	assert.True(t, ok, "claim expired after ttl")
}

func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("FRAVIK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FRAVIK_TEST_REDIS_ADDR not set")
	}
	rdb, err := Dial(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer rdb.Close()

	exerciseGuard(t, NewRedisGuard(rdb, time.Minute, WithPrefix("fravik:test:")))
}
