package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/oxidb/oxidbtest"
)

func TestPoolRoundRobin(t *testing.T) {
	srv := oxidbtest.NewServer(t)
	p, err := NewPool(context.Background(), srv.Host(), srv.Port(), 2, time.Hour, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	a, b := p.Get(), p.Get()
	assert.NotSame(t, a, b)
	assert.Same(t, a, p.Get())

	pong, err := a.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", pong)
}

func TestPoolConnectFailure(t *testing.T) {
	srv := oxidbtest.NewServer(t)
	host, port := srv.Host(), srv.Port()
	srv.Close()

	_, err := NewPool(context.Background(), host, port, 1, time.Hour, zap.NewNop())
	assert.Error(t, err)
}

func TestPoolCloseIdempotent(t *testing.T) {
	srv := oxidbtest.NewServer(t)
	p, err := NewPool(context.Background(), srv.Host(), srv.Port(), 1, time.Hour, zap.NewNop())
	require.NoError(t, err)
	p.Close()
	p.Close()
}

func TestPoolRedialsBrokenClient(t *testing.T) {
	srv := oxidbtest.NewServer(t)
	p, err := NewPool(context.Background(), srv.Host(), srv.Port(), 1, time.Hour, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	c := p.Get()
	_, err = c.Insert(ctx, "submissions", map[string]any{"submissionId": "A"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, "submissions", map[string]any{"submissionId": "B"})
	require.NoError(t, err)

	srv.Delay("find_one", 200*time.Millisecond)
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = c.FindOne(short, "submissions", map[string]any{"submissionId": "A"})
	require.Error(t, err)
	srv.Delay("find_one", 0)

	next := p.Get()
	assert.NotSame(t, c, next)
	assert.False(t, next.Broken())
	doc, err := next.FindOne(ctx, "submissions", map[string]any{"submissionId": "B"})
	require.NoError(t, err)
	assert.Equal(t, "B", doc["submissionId"])
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
