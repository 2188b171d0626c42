package ack

import (
	"sort"
	"sync"

	"kafnotif/source/kafka"
)

// Ledger is a multi-producer queue of acknowledged positions. Delivery tasks
// enqueue; the owning poll loop drains.
type Ledger struct {
	mu      sync.Mutex
	pending []kafka.Offset
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) Enqueue(o kafka.Offset) {
	l.mu.Lock()
	l.pending = append(l.pending, o)
	l.mu.Unlock()
}

// Len is the number of queued, not yet drained markers.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Drain empties the queue and folds it to one marker per partition holding
// the highest position. Never blocks on anything but the queue mutex.
func (l *Ledger) Drain() []kafka.Offset {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()
	return Fold(batch)
}

// Fold keeps the maximum Next per partition, sorted by topic then partition.
func Fold(offsets []kafka.Offset) []kafka.Offset {
	if len(offsets) == 0 {
		return nil
	}
	best := make(map[kafka.TopicPartition]int64, len(offsets))
	for _, o := range offsets {
		if cur, ok := best[o.TP()]; !ok || o.Next > cur {
			best[o.TP()] = o.Next
		}
	}
	out := make([]kafka.Offset, 0, len(best))
	for tp, next := range best {
		out = append(out, kafka.Offset{Topic: tp.Topic, Partition: tp.Partition, Next: next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}
