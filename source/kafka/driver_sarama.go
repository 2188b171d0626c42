package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"kafnotif/internal/logging"

	"github.com/IBM/sarama"
)

func init() {
	Register("sarama", NewSaramaConn)
}

// SaramaConn runs a sarama consumer group in the background and hands its
// messages to Poll. Offsets are marked on the live session; a synchronous
// commit flushes them immediately, otherwise sarama's auto-commit loop does.
type SaramaConn struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup

	msgs chan *sarama.ConsumerMessage
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	sess   sarama.ConsumerGroupSession
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func saramaConfig(cfg Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = cfg.ClientID
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	switch cfg.StartFrom {
	case StartLatest:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return sc, nil
}

// NewSaramaConn dials the cluster and joins cfg.GroupID on Subscribe.
func NewSaramaConn(cfg Config) (Conn, error) {
	cfg.ApplyDefaults()
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	cl, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, cl)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	return newSaramaConn(cfg, cl, group), nil
}

func newSaramaConn(cfg Config, cl sarama.Client, group sarama.ConsumerGroup) *SaramaConn {
	return &SaramaConn{
		cfg:   cfg,
		cl:    cl,
		group: group,
		msgs:  make(chan *sarama.ConsumerMessage, cfg.MaxPollRecords),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (c *SaramaConn) Subscribe(topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return errors.New("kafka: already subscribed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	handler := &groupHandler{conn: c}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logging.L().Warn("sarama: consume", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			logging.L().Warn("sarama: consumer group error", "err", err)
		}
	}()
	return nil
}

func (c *SaramaConn) Poll(ctx context.Context, timeout time.Duration) ([]Record, error) {
	c.mu.Lock()
	subscribed := c.cancel != nil
	c.mu.Unlock()
	if !subscribed {
		return nil, ErrNotSubscribed
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	var first *sarama.ConsumerMessage
	select {
	case first = <-c.msgs:
	case <-c.wake:
		return nil, ErrWakeup
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, nil
	}

	batch := []*sarama.ConsumerMessage{first}
drain:
	for len(batch) < c.cfg.MaxPollRecords {
		select {
		case m := <-c.msgs:
			batch = append(batch, m)
		default:
			break drain
		}
	}

	out := make([]Record, 0, len(batch))
	for _, m := range batch {
		out = append(out, Record{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Headers:   toHeaderMap(m.Headers),
			Timestamp: m.Timestamp,
		})
	}
	if c.cfg.AutoCommit {
		c.mu.Lock()
		if c.sess != nil {
			for _, m := range batch {
				c.sess.MarkMessage(m, "")
			}
		}
		c.mu.Unlock()
	}
	return out, nil
}

var errNoSession = errors.New("kafka: no active group session")

func (c *SaramaConn) Commit(_ context.Context, offsets []Offset, async bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sess == nil {
		return errNoSession
	}
	for _, o := range offsets {
		c.sess.MarkOffset(o.Topic, o.Partition, o.Next, "")
	}
	if !async {
		c.sess.Commit()
	}
	return nil
}

func (c *SaramaConn) Wakeup() { signal(c.wake) }

func (c *SaramaConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	if c.cl != nil {
		if cerr := c.cl.Close(); cerr != nil && !errors.Is(cerr, sarama.ErrClosedClient) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

type groupHandler struct {
	conn *SaramaConn
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.conn.mu.Lock()
	h.conn.sess = sess
	h.conn.mu.Unlock()
	logging.L().Info("sarama: session started", "member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.conn.mu.Lock()
	if h.conn.sess == sess {
		h.conn.sess = nil
	}
	h.conn.mu.Unlock()
	logging.L().Info("sarama: session ended", "member", sess.MemberID(), "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.conn.msgs <- msg:
			case <-sess.Context().Done():
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[string(h.Key)] = h.Value
	}
	return out
}
