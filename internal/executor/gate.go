package executor

import (
	"context"
	"sync"
)

// Gate counts in-flight tasks against a fixed capacity. Acquire blocks
// while no tokens are left.
type Gate struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
}

func NewGate(capacity int64) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	g := &Gate{capacity: capacity, tokens: capacity}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *Gate) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.tokens == 0 && !g.closed && ctx.Err() == nil {
		g.cond.Wait()
	}
	switch {
	case g.closed:
		return ErrClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}
	g.tokens--
	return nil
}

func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.tokens == 0 {
		return false
	}
	g.tokens--
	return true
}

func (g *Gate) Release() {
	g.mu.Lock()
	g.tokens++
	if g.tokens > g.capacity {
		g.tokens = g.capacity
	}
	g.mu.Unlock()
	g.cond.Signal()
}

// InUse is the number of tokens currently held.
func (g *Gate) InUse() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity - g.tokens
}

// Close fails all current and future Acquire calls.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
