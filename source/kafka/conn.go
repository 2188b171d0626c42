package kafka

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWakeup is returned by Poll when Wakeup interrupted it.
	ErrWakeup = errors.New("kafka: poll woken up")
	// ErrClosed is returned by any call after Close.
	ErrClosed = errors.New("kafka: connection closed")
	// ErrNotSubscribed is returned by Poll before Subscribe.
	ErrNotSubscribed = errors.New("kafka: not subscribed")
)

// Record is one consumed message.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time
}

// Marker returns the commit position that covers r.
func (r Record) Marker() Offset {
	return Offset{Topic: r.Topic, Partition: r.Partition, Next: r.Offset + 1}
}

// TopicPartition identifies one partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// Offset is a commit position: Next is the next offset the group should read.
type Offset struct {
	Topic     string
	Partition int32
	Next      int64
}

func (o Offset) TP() TopicPartition { return TopicPartition{o.Topic, o.Partition} }

// Conn is one consumer-group member. Subscribe, Poll and Close belong to
// the goroutine that owns the connection. Commit may run concurrently with
// Poll as long as commits themselves are serialized. Wakeup is safe from
// any goroutine.
type Conn interface {
	Subscribe(topics []string) error
	// Poll returns up to Config.MaxPollRecords records, waiting at most
	// timeout. An empty batch with a nil error means the timeout elapsed.
	Poll(ctx context.Context, timeout time.Duration) ([]Record, error)
	// Commit stores offsets for the group. With async set the call may
	// return before the broker acknowledged the commit.
	Commit(ctx context.Context, offsets []Offset, async bool) error
	// Wakeup interrupts a blocked Poll, or the next one.
	Wakeup()
	Close() error
}

// wakeable derives a poll context that expires after timeout or when wake
// fires. stop releases it and reports whether wake fired.
func wakeable(ctx context.Context, timeout time.Duration, wake <-chan struct{}) (context.Context, func() bool) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	woke := make(chan bool, 1)
	go func() {
		select {
		case <-wake:
			woke <- true
			cancel()
		case <-pctx.Done():
			woke <- false
		}
	}()
	return pctx, func() bool {
		cancel()
		return <-woke
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
