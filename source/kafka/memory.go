package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

var defaultBroker = NewBroker()

func init() {
	Register("memory", func(cfg Config) (Conn, error) { return defaultBroker.Open(cfg) })
}

// DefaultBroker is the process-wide broker behind the "memory" driver.
func DefaultBroker() *Broker { return defaultBroker }

// CommitCall records one Commit issued against a Broker.
type CommitCall struct {
	Group   string
	Offsets []Offset
	Async   bool
}

// Broker is an in-process partitioned log with consumer groups. Partitions
// of subscribed topics are spread over group members by index.
type Broker struct {
	mu      sync.Mutex
	topics  map[string][][]Record
	groups  map[string]*memGroup
	commits []CommitCall
	notify  chan struct{}

	commitErr error
}

type memGroup struct {
	members   []*memConn
	committed map[TopicPartition]int64
	position  map[TopicPartition]int64
}

func NewBroker() *Broker {
	return &Broker{
		topics: map[string][][]Record{},
		groups: map[string]*memGroup{},
		notify: make(chan struct{}),
	}
}

// CreateTopic adds a topic; it reports false when the topic already exists.
func (b *Broker) CreateTopic(name string, partitions int) bool {
	if partitions <= 0 {
		partitions = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; ok {
		return false
	}
	b.topics[name] = make([][]Record, partitions)
	return true
}

// Topics returns topic names with their partition counts.
func (b *Broker) Topics() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.topics))
	for n, parts := range b.topics {
		out[n] = len(parts)
	}
	return out
}

// Produce appends a record, creating a single-partition topic on first use.
// The partition is chosen by key hash.
func (b *Broker) Produce(topic string, key, value []byte, headers map[string][]byte) (int32, int64) {
	b.mu.Lock()
	parts, ok := b.topics[topic]
	if !ok {
		parts = make([][]Record, 1)
		b.topics[topic] = parts
	}
	p := int32(0)
	if len(key) > 0 && len(parts) > 1 {
		h := fnv.New32a()
		_, _ = h.Write(key)
		p = int32(h.Sum32() % uint32(len(parts)))
	}
	off := int64(len(parts[p]))
	parts[p] = append(parts[p], Record{
		Topic:     topic,
		Partition: p,
		Offset:    off,
		Key:       key,
		Value:     value,
		Headers:   headers,
		Timestamp: time.Now(),
	})
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
	return p, off
}

// Records returns every record of topic in partition then offset order.
func (b *Broker) Records(topic string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Record
	for _, p := range b.topics[topic] {
		out = append(out, p...)
	}
	return out
}

// Committed returns the group's stored position for a partition.
func (b *Broker) Committed(group, topic string, partition int32) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[group]
	if !ok {
		return 0, false
	}
	off, ok := g.committed[TopicPartition{topic, partition}]
	return off, ok
}

// Commits returns every Commit call issued so far.
func (b *Broker) Commits() []CommitCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CommitCall, len(b.commits))
	copy(out, b.commits)
	return out
}

// FailCommits makes subsequent commits return err; nil restores them.
func (b *Broker) FailCommits(err error) {
	b.mu.Lock()
	b.commitErr = err
	b.mu.Unlock()
}

// Open creates a member of cfg.GroupID.
func (b *Broker) Open(cfg Config) (Conn, error) {
	cfg.ApplyDefaults()
	return &memConn{broker: b, cfg: cfg, wake: make(chan struct{}, 1)}, nil
}

type memConn struct {
	broker *Broker
	cfg    Config
	wake   chan struct{}

	topics []string
	closed bool
}

func (b *Broker) group(id string) *memGroup {
	g, ok := b.groups[id]
	if !ok {
		g = &memGroup{committed: map[TopicPartition]int64{}, position: map[TopicPartition]int64{}}
		b.groups[id] = g
	}
	return g
}

func (c *memConn) Subscribe(topics []string) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.topics != nil {
		return errors.New("kafka: already subscribed")
	}
	c.topics = append([]string{}, topics...)
	g := b.group(c.cfg.GroupID)
	g.members = append(g.members, c)
	return nil
}

// assignedLocked lists the partitions this member owns.
func (c *memConn) assignedLocked(g *memGroup) []TopicPartition {
	idx := -1
	for i, m := range g.members {
		if m == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var all []TopicPartition
	for _, t := range c.topics {
		for p := range c.broker.topics[t] {
			all = append(all, TopicPartition{t, int32(p)})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Topic != all[j].Topic {
			return all[i].Topic < all[j].Topic
		}
		return all[i].Partition < all[j].Partition
	})
	var mine []TopicPartition
	for i, tp := range all {
		if i%len(g.members) == idx {
			mine = append(mine, tp)
		}
	}
	return mine
}

func (c *memConn) fetchLocked() []Record {
	b := c.broker
	g := b.group(c.cfg.GroupID)
	var out []Record
	for _, tp := range c.assignedLocked(g) {
		log := b.topics[tp.Topic][tp.Partition]
		pos, ok := g.position[tp]
		if !ok {
			if committed, has := g.committed[tp]; has {
				pos = committed
			} else if c.cfg.StartFrom == StartLatest {
				pos = int64(len(log))
			}
		}
		for pos < int64(len(log)) && len(out) < c.cfg.MaxPollRecords {
			out = append(out, log[pos])
			pos++
		}
		g.position[tp] = pos
		if c.cfg.AutoCommit {
			g.committed[tp] = pos
		}
	}
	return out
}

func (c *memConn) Poll(ctx context.Context, timeout time.Duration) ([]Record, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		b := c.broker
		b.mu.Lock()
		if c.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		if c.topics == nil {
			b.mu.Unlock()
			return nil, ErrNotSubscribed
		}
		select {
		case <-c.wake:
			b.mu.Unlock()
			return nil, ErrWakeup
		default:
		}
		if recs := c.fetchLocked(); len(recs) > 0 {
			b.mu.Unlock()
			return recs, nil
		}
		notify := b.notify
		b.mu.Unlock()

		select {
		case <-notify:
		case <-c.wake:
			return nil, ErrWakeup
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		}
	}
}

func (c *memConn) Commit(_ context.Context, offsets []Offset, async bool) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if b.commitErr != nil {
		return fmt.Errorf("kafka: memory commit: %w", b.commitErr)
	}
	g := b.group(c.cfg.GroupID)
	for _, o := range offsets {
		g.committed[o.TP()] = o.Next
	}
	b.commits = append(b.commits, CommitCall{Group: c.cfg.GroupID, Offsets: append([]Offset{}, offsets...), Async: async})
	return nil
}

func (c *memConn) Wakeup() { signal(c.wake) }

func (c *memConn) Close() error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if g, ok := b.groups[c.cfg.GroupID]; ok {
		owned := c.assignedLocked(g)
		for i, m := range g.members {
			if m == c {
				g.members = append(g.members[:i], g.members[i+1:]...)
				break
			}
		}
		// Uncommitted positions rewind so the next owner re-reads them.
		for _, tp := range owned {
			if off, ok := g.committed[tp]; ok {
				g.position[tp] = off
			} else {
				delete(g.position, tp)
			}
		}
	}
	return nil
}
