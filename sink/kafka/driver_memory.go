package kafka

import (
	"context"

	"kafnotif/sink"
	source "kafnotif/source/kafka"
)

// MemoryProducer appends to an in-process Broker.
type MemoryProducer struct {
	b *source.Broker
}

func NewMemory(b *source.Broker) *MemoryProducer { return &MemoryProducer{b: b} }

func (p *MemoryProducer) Publish(ctx context.Context, msgs ...sink.Message) error {
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.b.Produce(m.Topic, m.Key, m.Value, m.Headers)
	}
	return nil
}

func (p *MemoryProducer) Close() error { return nil }

func init() {
	sink.Register("memory", func(source.Config) (sink.Producer, error) {
		return NewMemory(source.DefaultBroker()), nil
	})
}
