// Package db keeps a small set of OxiDB connections alive for the
// submission store.
package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/oxidb"
)

const dialTimeout = 5 * time.Second

// Pool is a round-robin connection pool for OxiDB with auto-reconnect.
type Pool struct {
	host    string
	port    int
	logger  *zap.Logger
	clients []*oxidb.Client
	mu      sync.RWMutex
	idx     uint64
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewPool creates a pool of size OxiDB connections and pings each one every
// keepalive interval, reconnecting the ones that fail.
func NewPool(ctx context.Context, host string, port, size int, keepalive time.Duration, logger *zap.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		host:    host,
		port:    port,
		logger:  logger.Named("oxidb-pool"),
		clients: make([]*oxidb.Client, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		c, err := p.dial(ctx)
		if err != nil {
			p.closeClients()
			return nil, fmt.Errorf("pool: connect client %d: %w", i, err)
		}
		p.clients[i] = c
	}
	if keepalive <= 0 {
		keepalive = 10 * time.Second
	}
	go p.keepalive(keepalive)
	return p, nil
}

func (p *Pool) dial(ctx context.Context) (*oxidb.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return oxidb.Connect(ctx, p.host, p.port)
}

// Get returns the next client in round-robin order. A client that dropped
// its connection is redialed first; if that fails the broken client is
// returned and its calls fail with oxidb.ErrBroken.
func (p *Pool) Get() *oxidb.Client {
	n := atomic.AddUint64(&p.idx, 1)
	p.mu.RLock()
	i := int(n % uint64(len(p.clients)))
	c := p.clients[i]
	p.mu.RUnlock()
	if !c.Broken() {
		return c
	}
	p.reconnect(i, c)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[i]
}

// reconnect replaces old at slot i unless another caller already did.
func (p *Pool) reconnect(i int, old *oxidb.Client) {
	c, err := p.dial(context.Background())
	if err != nil {
		p.logger.Warn("reconnect failed", zap.Int("client", i), zap.Error(err))
		return
	}
	p.mu.Lock()
	if p.clients[i] != old {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	p.clients[i] = c
	p.mu.Unlock()
	_ = old.Close()
}

func (p *Pool) keepalive(every time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.RLock()
			clients := append([]*oxidb.Client(nil), p.clients...)
			p.mu.RUnlock()
			for i, c := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
				_, err := c.Ping(ctx)
				cancel()
				if err != nil {
					p.logger.Warn("ping failed, reconnecting", zap.Int("client", i), zap.Error(err))
					p.reconnect(i, c)
				}
			}
		}
	}
}

func (p *Pool) closeClients() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c != nil {
			_ = c.Close()
		}
	}
}

// Close stops the keepalive loop and closes all connections.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		p.closeClients()
	})
}
