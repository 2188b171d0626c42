package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kafnotif/internal/logging"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

func init() {
	Register("franz", NewFranzConn)
}

// FranzConn is a franz-go group member. The kgo client is created on
// Subscribe since topics are a client option.
type FranzConn struct {
	cfg  Config
	opts []kgo.Opt

	mu      sync.Mutex
	cl      *kgo.Client
	commits *committer
	closed  bool
	wake    chan struct{}
	onError func([]Offset, error)
}

func NewFranzConn(cfg Config) (Conn, error) {
	cfg.ApplyDefaults()
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ClientID(cfg.ClientID),
	}
	if cfg.StartFrom == StartLatest {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}
	if !cfg.AutoCommit {
		opts = append(opts, kgo.DisableAutoCommit())
	}
	return &FranzConn{cfg: cfg, opts: opts, wake: make(chan struct{}, 1)}, nil
}

func (c *FranzConn) Subscribe(topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.cl != nil {
		return errors.New("kafka: already subscribed")
	}
	cl, err := kgo.NewClient(append(c.opts, kgo.ConsumeTopics(topics...))...)
	if err != nil {
		return err
	}
	c.cl = cl
	c.commits = newCommitter("franz", func(ctx context.Context, offsets []Offset) error {
		return commitFranz(ctx, cl, offsets)
	})
	c.commits.setOnError(c.onError)
	return nil
}

// OnCommitError registers fn for failures of asynchronous commits.
func (c *FranzConn) OnCommitError(fn func(offsets []Offset, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
	if c.commits != nil {
		c.commits.setOnError(fn)
	}
}

func (c *FranzConn) client() (*kgo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.cl == nil {
		return nil, ErrNotSubscribed
	}
	return c.cl, nil
}

func (c *FranzConn) Poll(ctx context.Context, timeout time.Duration) ([]Record, error) {
	cl, err := c.client()
	if err != nil {
		return nil, err
	}
	pctx, stop := wakeable(ctx, timeout, c.wake)
	fetches := cl.PollRecords(pctx, c.cfg.MaxPollRecords)
	woke := stop()

	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}
	fetches.EachError(func(topic string, partition int32, err error) {
		if isCtxErr(err) {
			return
		}
		logging.L().Warn("franz: fetch error", "topic", topic, "partition", partition, "err", err)
	})

	var out []Record
	fetches.EachRecord(func(r *kgo.Record) {
		rec := Record{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		}
		if len(r.Headers) > 0 {
			rec.Headers = make(map[string][]byte, len(r.Headers))
			for _, h := range r.Headers {
				rec.Headers[h.Key] = h.Value
			}
		}
		out = append(out, rec)
	})
	if len(out) == 0 {
		if woke {
			return nil, ErrWakeup
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if woke {
		// Deliver what was fetched; the wakeup is seen by the next Poll.
		signal(c.wake)
	}
	return out, nil
}

func (c *FranzConn) Commit(ctx context.Context, offsets []Offset, async bool) error {
	c.mu.Lock()
	commits, closed := c.commits, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if commits == nil {
		return ErrNotSubscribed
	}
	return commits.commit(ctx, offsets, async)
}

// franzOffsets maps commit positions onto the offsets kgo commits as-is.
func franzOffsets(offsets []Offset) map[string]map[int32]kgo.EpochOffset {
	out := make(map[string]map[int32]kgo.EpochOffset)
	for _, o := range offsets {
		parts, ok := out[o.Topic]
		if !ok {
			parts = make(map[int32]kgo.EpochOffset)
			out[o.Topic] = parts
		}
		parts[o.Partition] = kgo.EpochOffset{Epoch: -1, Offset: o.Next}
	}
	return out
}

func commitFranz(ctx context.Context, cl *kgo.Client, offsets []Offset) error {
	var cerr error
	cl.CommitOffsetsSync(ctx, franzOffsets(offsets), func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		cerr = commitResponseErr(resp, err)
	})
	return cerr
}

// commitResponseErr joins the request error with every per-partition error.
func commitResponseErr(resp *kmsg.OffsetCommitResponse, err error) error {
	if err != nil || resp == nil {
		return err
	}
	var errs []error
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if perr := kerr.ErrorForCode(p.ErrorCode); perr != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", t.Topic, p.Partition, perr))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *FranzConn) Wakeup() { signal(c.wake) }

func (c *FranzConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	commits, cl := c.commits, c.cl
	c.mu.Unlock()
	if commits != nil {
		commits.close()
	}
	if cl != nil {
		cl.Close()
	}
	return nil
}
