package ack

import (
	"context"
	"log/slog"
	"sync"

	"kafnotif/internal/logging"
	"kafnotif/source/kafka"
)

// Committer is the commit half of a broker connection.
type Committer interface {
	Commit(ctx context.Context, offsets []kafka.Offset, async bool) error
}

// Observer is told about every commit attempt.
type Observer interface {
	ObserveCommit(async bool, partitions int, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveCommit(bool, int, error) {}

// Coordinator owns the commit path of one connection.
type Coordinator struct {
	conn   Committer
	mode   Mode
	ledger *Ledger
	log    *slog.Logger
	obs    Observer

	mu        sync.Mutex // held only around conn.Commit
	committed map[kafka.TopicPartition]int64

	// retry holds positions whose asynchronous commit failed after Commit
	// returned; exactly that position may be committed again.
	retryMu sync.Mutex
	retry   map[kafka.TopicPartition]int64
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.obs = o
		}
	}
}

func NewCoordinator(conn Committer, mode Mode, opts ...Option) *Coordinator {
	c := &Coordinator{
		conn:      conn,
		mode:      mode,
		ledger:    NewLedger(),
		log:       logging.L(),
		obs:       nopObserver{},
		committed: map[kafka.TopicPartition]int64{},
		retry:     map[kafka.TopicPartition]int64{},
	}
	for _, o := range opts {
		o(c)
	}
	if r, ok := conn.(kafka.CommitErrorReporter); ok {
		r.OnCommitError(c.asyncFailed)
	}
	return c
}

// asyncFailed requeues positions whose asynchronous commit failed once
// Commit had returned. The observer saw the issue as a success and now
// sees the failure.
func (c *Coordinator) asyncFailed(offsets []kafka.Offset, err error) {
	c.obs.ObserveCommit(true, len(offsets), err)
	c.retryMu.Lock()
	for _, o := range offsets {
		c.retry[o.TP()] = o.Next
	}
	c.retryMu.Unlock()
	for _, o := range offsets {
		c.ledger.Enqueue(o)
	}
}

func (c *Coordinator) Mode() Mode      { return c.mode }
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// NewHandle returns the acknowledgment handle for one consumed record.
func (c *Coordinator) NewHandle(rec kafka.Record) *Handle {
	return &Handle{c: c, marker: rec.Marker()}
}

// DrainAndCommit folds everything acknowledged since the last call and
// issues one asynchronous commit. It is a no-op in auto mode.
func (c *Coordinator) DrainAndCommit(ctx context.Context) error {
	if !c.mode.Manual() {
		return nil
	}
	return c.commit(ctx, c.ledger.Drain(), true)
}

// Flush drains and commits synchronously. Used at shutdown.
func (c *Coordinator) Flush(ctx context.Context) error {
	if !c.mode.Manual() {
		return nil
	}
	return c.commit(ctx, c.ledger.Drain(), false)
}

// CommitNow commits one marker synchronously.
func (c *Coordinator) CommitNow(ctx context.Context, o kafka.Offset) error {
	return c.commit(ctx, []kafka.Offset{o}, false)
}

// Committed returns the highest position this coordinator committed.
func (c *Coordinator) Committed(tp kafka.TopicPartition) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	off, ok := c.committed[tp]
	return off, ok
}

// commit sends the offsets that move a partition forward. A failed commit
// is queued on the ledger so the next drain retries it.
func (c *Coordinator) commit(ctx context.Context, offsets []kafka.Offset, async bool) error {
	if len(offsets) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retryMu.Lock()
	fresh := offsets[:0:0]
	for _, o := range offsets {
		cur, ok := c.committed[o.TP()]
		if ok && o.Next <= cur {
			if r, failed := c.retry[o.TP()]; !failed || r != o.Next || o.Next != cur {
				continue
			}
		}
		fresh = append(fresh, o)
	}
	c.retryMu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	err := c.conn.Commit(ctx, fresh, async)
	c.obs.ObserveCommit(async, len(fresh), err)
	if err != nil {
		c.log.Warn("offset commit failed", "async", async, "partitions", len(fresh), "err", err)
		for _, o := range fresh {
			c.ledger.Enqueue(o)
		}
		return err
	}
	c.retryMu.Lock()
	for _, o := range fresh {
		c.committed[o.TP()] = o.Next
		delete(c.retry, o.TP())
	}
	c.retryMu.Unlock()
	c.log.Debug("offsets committed", "async", async, "offsets", fresh)
	return nil
}
