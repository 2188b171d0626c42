package publisher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kafnotif/internal/event"
	"kafnotif/internal/publisher"
	"kafnotif/sink"
	sinkkafka "kafnotif/sink/kafka"
	"kafnotif/source/kafka"
)

type failing struct{ err error }

func (f failing) Publish(context.Context, ...sink.Message) error { return f.err }
func (failing) Close() error                                     { return nil }

func TestPublish_StampsHeadersAndKey(t *testing.T) {
	b := kafka.NewBroker()
	p := publisher.New(sinkkafka.NewMemory(b), "notifications")

	n := event.NewEmail("a@b.com", "hi", "body").WithPriority(event.PriorityHigh)
	n.RetryCount = 1
	require.NoError(t, p.Publish(context.Background(), n))

	recs := b.Records("notifications.email")
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, n.ID, string(r.Key))
	assert.Equal(t, "email", string(r.Headers[publisher.HeaderType]))
	assert.Equal(t, "3", string(r.Headers[publisher.HeaderPriority]))
	assert.Equal(t, "1", string(r.Headers[publisher.HeaderRetryCount]))

	got, err := event.Decode(r.Value)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "hi", got.Payload.(*event.Email).Subject)
}

func TestPublish_RejectsInvalid(t *testing.T) {
	b := kafka.NewBroker()
	p := publisher.New(sinkkafka.NewMemory(b), "notifications")

	err := p.Publish(context.Background(), event.NewSMS("not a phone", "x"))
	require.ErrorIs(t, err, event.ErrInvalid)
	assert.Empty(t, b.Topics())
}

func TestPublishTo_WrapsProducerError(t *testing.T) {
	boom := errors.New("no brokers")
	p := publisher.New(failing{boom}, "")
	err := p.PublishTo(context.Background(), "custom", event.NewSlack("#ops", "hi"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "slack", p.Topic(event.ChannelSlack))
}

func TestDeadLetter(t *testing.T) {
	b := kafka.NewBroker()
	dlq := publisher.NewDeadLetter(sinkkafka.NewMemory(b), ".dlq")
	rec := kafka.Record{
		Topic: "notifications.email", Partition: 2, Offset: 41,
		Key: []byte("orig"), Value: []byte(`{"id":"e1"}`),
		Headers:   map[string][]byte{publisher.HeaderType: []byte("email")},
		Timestamp: time.Now(),
	}
	ev := event.NewEmail("a@b.com", "s", "b")
	ev.ID = "e1"

	require.NoError(t, dlq.DeadLetter(context.Background(), rec, ev, errors.New("smtp 550"), 4))

	out := b.Records("notifications.email.dlq")
	require.Len(t, out, 1)
	d := out[0]
	assert.Equal(t, "e1", string(d.Key))
	assert.Equal(t, rec.Value, d.Value)
	assert.Equal(t, "email", string(d.Headers[publisher.HeaderType]))
	assert.Equal(t, "smtp 550", string(d.Headers[publisher.HeaderDLQReason]))
	assert.Equal(t, "4", string(d.Headers[publisher.HeaderDLQAttempts]))
	assert.Equal(t, "notifications.email", string(d.Headers[publisher.HeaderDLQTopic]))
	assert.Equal(t, "2", string(d.Headers[publisher.HeaderDLQPartition]))
	assert.Equal(t, "41", string(d.Headers[publisher.HeaderDLQOffset]))
	assert.NotEmpty(t, d.Headers[publisher.HeaderDLQFailedAt])
	assert.NotContains(t, rec.Headers, publisher.HeaderDLQReason, "source headers untouched")
}

func TestDeadLetter_UndecodableKeepsOriginalKey(t *testing.T) {
	b := kafka.NewBroker()
	dlq := publisher.NewDeadLetter(sinkkafka.NewMemory(b), "-dead")
	rec := kafka.Record{Topic: "n.sms", Key: []byte("k1"), Value: []byte("{garbage")}

	require.NoError(t, dlq.DeadLetter(context.Background(), rec, nil, errors.New("decode"), 0))
	out := b.Records("n.sms-dead")
	require.Len(t, out, 1)
	assert.Equal(t, "k1", string(out[0].Key))
	assert.Equal(t, "{garbage", string(out[0].Value))
}

func TestDeadLetter_ProducerError(t *testing.T) {
	boom := errors.New("down")
	dlq := publisher.NewDeadLetter(failing{boom}, ".dlq")
	require.ErrorIs(t, dlq.DeadLetter(context.Background(), kafka.Record{Topic: "t"}, nil, nil, 1), boom)
	assert.Equal(t, "t.dlq", dlq.Topic("t"))
}
