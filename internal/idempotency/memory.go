// Package idempotency remembers which idempotency keys have already been
// accepted so a retried submission does not repeat its side effects.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard keeps claims in process memory. Expired claims are dropped
// lazily on the next Claim.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

type MemoryOption func(*MemoryGuard)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(g *MemoryGuard) { g.now = now }
}

func NewMemoryGuard(ttl time.Duration, opts ...MemoryOption) *MemoryGuard {
	g := &MemoryGuard{
		claims: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Claim records key and reports whether it was free.
func (g *MemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, exp := range g.claims {
		if !now.Before(exp) {
			delete(g.claims, k)
		}
	}
	if _, taken := g.claims[key]; taken {
		return false, nil
	}
	g.claims[key] = now.Add(g.ttl)
	return true, nil
}

// Release frees key so it can be claimed again.
func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}
