package kafka

import (
	"context"
	"errors"

	"kafnotif/sink"
	source "kafnotif/source/kafka"

	"github.com/IBM/sarama"
)

type saramaDriver struct {
	p sarama.SyncProducer
}

func producerConfig(cfg source.Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	return sc, nil
}

// NewSarama opens a synchronous sarama producer with acks=all.
func NewSarama(cfg source.Config) (sink.Producer, error) {
	cfg.ApplyDefaults()
	sc, err := producerConfig(cfg)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return &saramaDriver{p: p}, nil
}

// NewSaramaFrom wraps an existing producer, e.g. a sarama mock.
func NewSaramaFrom(p sarama.SyncProducer) sink.Producer { return &saramaDriver{p: p} }

func (d *saramaDriver) Publish(ctx context.Context, msgs ...sink.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, m := range msgs {
		pm := &sarama.ProducerMessage{Topic: m.Topic, Value: sarama.ByteEncoder(m.Value)}
		if len(m.Key) > 0 {
			pm.Key = sarama.ByteEncoder(m.Key)
		}
		for _, k := range m.SortedHeaderKeys() {
			pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: m.Headers[k]})
		}
		out = append(out, pm)
	}
	if len(out) == 1 {
		_, _, err := d.p.SendMessage(out[0])
		return err
	}
	if err := d.p.SendMessages(out); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			return perrs[0].Err
		}
		return err
	}
	return nil
}

func (d *saramaDriver) Close() error {
	return d.p.Close()
}

func init() { sink.Register("sarama", NewSarama) }
