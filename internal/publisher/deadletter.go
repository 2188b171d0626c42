package publisher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"kafnotif/internal/event"
	"kafnotif/internal/logging"
	"kafnotif/internal/retry"
	"kafnotif/sink"
	"kafnotif/source/kafka"
)

const (
	HeaderDLQReason    = "dlq.reason"
	HeaderDLQAttempts  = "dlq.attempts"
	HeaderDLQTopic     = "dlq.source.topic"
	HeaderDLQPartition = "dlq.source.partition"
	HeaderDLQOffset    = "dlq.source.offset"
	HeaderDLQFailedAt  = "dlq.failed_at"
)

// DeadLetter republishes failed records, value untouched, on
// "<source-topic><suffix>".
type DeadLetter struct {
	out    sink.Producer
	suffix string
	log    *slog.Logger
	now    func() time.Time
}

var _ retry.DeadLetterer = (*DeadLetter)(nil)

func NewDeadLetter(out sink.Producer, suffix string) *DeadLetter {
	return &DeadLetter{out: out, suffix: suffix, log: logging.For("dlq"), now: time.Now}
}

func (d *DeadLetter) Topic(source string) string { return event.DeadLetterTopic(source, d.suffix) }

func (d *DeadLetter) DeadLetter(ctx context.Context, rec kafka.Record, ev *event.Notification, cause error, attempts int) error {
	key := rec.Key
	if ev != nil && ev.ID != "" {
		key = []byte(ev.ID)
	}
	headers := make(map[string][]byte, len(rec.Headers)+6)
	for k, v := range rec.Headers {
		headers[k] = v
	}
	if cause != nil {
		headers[HeaderDLQReason] = []byte(cause.Error())
	}
	headers[HeaderDLQAttempts] = []byte(strconv.Itoa(attempts))
	headers[HeaderDLQTopic] = []byte(rec.Topic)
	headers[HeaderDLQPartition] = []byte(strconv.FormatInt(int64(rec.Partition), 10))
	headers[HeaderDLQOffset] = []byte(strconv.FormatInt(rec.Offset, 10))
	headers[HeaderDLQFailedAt] = []byte(d.now().UTC().Format(time.RFC3339))

	msg := sink.Message{Topic: d.Topic(rec.Topic), Key: key, Value: rec.Value, Headers: headers}
	if err := d.out.Publish(ctx, msg); err != nil {
		return err
	}
	d.log.Info("dead-lettered", "topic", msg.Topic, "key", string(key), "attempts", attempts)
	return nil
}
