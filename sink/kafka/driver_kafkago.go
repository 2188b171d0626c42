package kafka

import (
	"context"

	"kafnotif/sink"
	source "kafnotif/source/kafka"

	kafkago "github.com/segmentio/kafka-go"
)

type kafkaGoDriver struct {
	w *kafkago.Writer
}

func NewKafkaGo(cfg source.Config) (sink.Producer, error) {
	cfg.ApplyDefaults()
	return &kafkaGoDriver{w: &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
	}}, nil
}

func (d *kafkaGoDriver) Publish(ctx context.Context, msgs ...sink.Message) error {
	out := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		km := kafkago.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
		for _, k := range m.SortedHeaderKeys() {
			km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: m.Headers[k]})
		}
		out = append(out, km)
	}
	return d.w.WriteMessages(ctx, out...)
}

func (d *kafkaGoDriver) Close() error {
	return d.w.Close()
}

func init() { sink.Register("kafkago", NewKafkaGo) }
