package kafka

import (
	"context"
	"sync"
	"time"

	"kafnotif/internal/logging"
)

const asyncCommitTimeout = 10 * time.Second

// CommitErrorReporter is implemented by connections whose asynchronous
// commits complete after Commit returned.
type CommitErrorReporter interface {
	OnCommitError(fn func(offsets []Offset, err error))
}

type commitReq struct {
	ctx     context.Context
	offsets []Offset
	result  chan error // nil for async
}

// committer issues commits from a single goroutine, in the order Commit
// was called, so a late lower offset never overwrites a higher one.
type committer struct {
	name string
	fn   func(ctx context.Context, offsets []Offset) error
	reqs chan commitReq
	done chan struct{}

	mu     sync.Mutex
	closed bool

	hookMu  sync.RWMutex
	onError func([]Offset, error)
}

func newCommitter(name string, fn func(context.Context, []Offset) error) *committer {
	c := &committer{
		name: name,
		fn:   fn,
		reqs: make(chan commitReq, 16),
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *committer) setOnError(fn func([]Offset, error)) {
	c.hookMu.Lock()
	c.onError = fn
	c.hookMu.Unlock()
}

func (c *committer) run() {
	defer close(c.done)
	for r := range c.reqs {
		if r.result != nil {
			r.result <- c.fn(r.ctx, r.offsets)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), asyncCommitTimeout)
		err := c.fn(ctx, r.offsets)
		cancel()
		if err == nil {
			continue
		}
		logging.L().Warn(c.name+": async commit failed", "partitions", len(r.offsets), "err", err)
		c.hookMu.RLock()
		fn := c.onError
		c.hookMu.RUnlock()
		if fn != nil {
			fn(r.offsets, err)
		}
	}
}

// commit queues offsets behind every earlier commit. A synchronous commit
// waits for its own result.
func (c *committer) commit(ctx context.Context, offsets []Offset, async bool) error {
	req := commitReq{ctx: ctx, offsets: append([]Offset(nil), offsets...)}
	if !async {
		req.result = make(chan error, 1)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.reqs <- req
	c.mu.Unlock()

	if async {
		return nil
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting commits and waits for the queued ones.
func (c *committer) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.reqs)
	c.mu.Unlock()
	<-c.done
}
