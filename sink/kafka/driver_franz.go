package kafka

import (
	"context"

	"kafnotif/sink"
	source "kafnotif/source/kafka"

	"github.com/twmb/franz-go/pkg/kgo"
)

type franzDriver struct {
	cl *kgo.Client
}

func NewFranz(cfg source.Config) (sink.Producer, error) {
	cfg.ApplyDefaults()
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, err
	}
	return &franzDriver{cl: cl}, nil
}

func (d *franzDriver) Publish(ctx context.Context, msgs ...sink.Message) error {
	recs := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		r := &kgo.Record{Topic: m.Topic, Key: m.Key, Value: m.Value}
		for _, k := range m.SortedHeaderKeys() {
			r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: m.Headers[k]})
		}
		recs = append(recs, r)
	}
	return d.cl.ProduceSync(ctx, recs...).FirstErr()
}

func (d *franzDriver) Close() error {
	d.cl.Close()
	return nil
}

func init() { sink.Register("franz", NewFranz) }
