package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"kafnotif/internal/logging"

	kafkago "github.com/segmentio/kafka-go"
)

func init() {
	Register("kafkago", NewKafkaGoConn)
}

// fetchLinger bounds the wait for each record after the first in a batch.
const fetchLinger = 5 * time.Millisecond

// KafkaGoConn wraps a segmentio/kafka-go group Reader.
type KafkaGoConn struct {
	cfg  Config
	wake chan struct{}

	mu      sync.Mutex
	r       *kafkago.Reader
	commits *committer
	closed  bool
	onError func([]Offset, error)
}

func NewKafkaGoConn(cfg Config) (Conn, error) {
	cfg.ApplyDefaults()
	return &KafkaGoConn{cfg: cfg, wake: make(chan struct{}, 1)}, nil
}

func (c *KafkaGoConn) Subscribe(topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.r != nil {
		return errors.New("kafka: already subscribed")
	}
	rc := kafkago.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     c.cfg.GroupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafkago.FirstOffset,
	}
	if c.cfg.StartFrom == StartLatest {
		rc.StartOffset = kafkago.LastOffset
	}
	if c.cfg.AutoCommit {
		rc.CommitInterval = time.Second
	}
	r := kafkago.NewReader(rc)
	c.r = r
	c.commits = newCommitter("kafkago", func(ctx context.Context, offsets []Offset) error {
		return r.CommitMessages(ctx, kafkaGoMessages(offsets)...)
	})
	c.commits.setOnError(c.onError)
	return nil
}

// OnCommitError registers fn for failures of asynchronous commits.
func (c *KafkaGoConn) OnCommitError(fn func(offsets []Offset, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
	if c.commits != nil {
		c.commits.setOnError(fn)
	}
}

func (c *KafkaGoConn) reader() (*kafkago.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.r == nil {
		return nil, ErrNotSubscribed
	}
	return c.r, nil
}

func (c *KafkaGoConn) Poll(ctx context.Context, timeout time.Duration) ([]Record, error) {
	r, err := c.reader()
	if err != nil {
		return nil, err
	}
	pctx, stop := wakeable(ctx, timeout, c.wake)

	var out []Record
	for len(out) < c.cfg.MaxPollRecords {
		fctx, cancel := pctx, context.CancelFunc(func() {})
		if len(out) > 0 {
			fctx, cancel = context.WithTimeout(pctx, fetchLinger)
		}
		var m kafkago.Message
		if c.cfg.AutoCommit {
			m, err = r.ReadMessage(fctx)
		} else {
			m, err = r.FetchMessage(fctx)
		}
		cancel()
		if err != nil {
			break
		}
		out = append(out, fromKafkaGo(m))
	}
	woke := stop()

	switch {
	case err == nil, isCtxErr(err):
	case errors.Is(err, io.EOF):
		if len(out) == 0 {
			return nil, ErrClosed
		}
	default:
		if len(out) == 0 {
			return nil, err
		}
		logging.L().Warn("kafkago: fetch error after partial batch", "err", err)
	}

	if len(out) == 0 {
		if woke {
			return nil, ErrWakeup
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if woke {
		signal(c.wake)
	}
	return out, nil
}

func fromKafkaGo(m kafkago.Message) Record {
	rec := Record{
		Topic:     m.Topic,
		Partition: int32(m.Partition),
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
	}
	if len(m.Headers) > 0 {
		rec.Headers = make(map[string][]byte, len(m.Headers))
		for _, h := range m.Headers {
			rec.Headers[h.Key] = h.Value
		}
	}
	return rec
}

func (c *KafkaGoConn) Commit(ctx context.Context, offsets []Offset, async bool) error {
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

// kafkaGoMessages maps commit positions onto messages; CommitMessages
// stores Offset+1.
func kafkaGoMessages(offsets []Offset) []kafkago.Message {
	msgs := make([]kafkago.Message, 0, len(offsets))
	for _, o := range offsets {
		msgs = append(msgs, kafkago.Message{Topic: o.Topic, Partition: int(o.Partition), Offset: o.Next - 1})
	}
	return msgs
}

func (c *KafkaGoConn) Wakeup() { signal(c.wake) }

func (c *KafkaGoConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	commits, r := c.commits, c.r
	c.mu.Unlock()
	if commits != nil {
		commits.close()
	}
	if r != nil {
		return r.Close()
	}
	return nil
}
