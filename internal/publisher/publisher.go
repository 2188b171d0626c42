// Package publisher writes notifications and dead letters to the broker.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"kafnotif/internal/event"
	"kafnotif/internal/logging"
	"kafnotif/sink"
)

// Headers carried on every published notification so consumers can route
// without decoding the value.
const (
	HeaderType       = "notificationType"
	HeaderPriority   = "priority"
	HeaderRetryCount = "retryCount"
)

type Publisher struct {
	out    sink.Producer
	prefix string
	log    *slog.Logger
}

func New(out sink.Producer, topicPrefix string) *Publisher {
	return &Publisher{out: out, prefix: topicPrefix, log: logging.For("publisher")}
}

// Topic returns the topic that carries ch.
func (p *Publisher) Topic(ch event.Channel) string { return ch.Topic(p.prefix) }

// Publish validates n and writes it to its channel topic keyed by id.
func (p *Publisher) Publish(ctx context.Context, n *event.Notification) error {
	return p.PublishTo(ctx, p.Topic(n.Channel), n)
}

// PublishTo writes n to an explicit topic.
func (p *Publisher) PublishTo(ctx context.Context, topic string, n *event.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	msg, err := Message(topic, n)
	if err != nil {
		return err
	}
	if err := p.out.Publish(ctx, msg); err != nil {
		p.log.Error("publish failed", "id", n.ID, "topic", topic, "err", err)
		return fmt.Errorf("publish %s to %s: %w", n.ID, topic, err)
	}
	p.log.Debug("published", "id", n.ID, "topic", topic, "channel", n.Channel, "priority", n.Priority.String())
	return nil
}

// Message encodes n with its routing headers.
func Message(topic string, n *event.Notification) (sink.Message, error) {
	val, err := event.Encode(n)
	if err != nil {
		return sink.Message{}, fmt.Errorf("encode %s: %w", n.ID, err)
	}
	return sink.Message{
		Topic: topic,
		Key:   []byte(n.ID),
		Value: val,
		Headers: map[string][]byte{
			HeaderType:       []byte(n.Channel),
			HeaderPriority:   []byte(strconv.Itoa(n.Priority.Level())),
			HeaderRetryCount: []byte(strconv.Itoa(n.RetryCount)),
		},
	}, nil
}

func (p *Publisher) Close() error { return p.out.Close() }
