// Package topics creates the channel and dead-letter topics at startup.
package topics

import (
	"context"
	"errors"
	"sort"

	"github.com/IBM/sarama"

	"kafnotif/source/kafka"
)

var ErrTopicExists = errors.New("topics: topic already exists")

// Spec describes one topic to create.
type Spec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]string
}

// Admin is the subset of cluster administration used at startup.
type Admin interface {
	ListTopics(ctx context.Context) ([]string, error)
	// CreateTopic returns ErrTopicExists when the topic is already there.
	CreateTopic(ctx context.Context, s Spec) error
	Close() error
}

type SaramaAdmin struct {
	ca sarama.ClusterAdmin
}

func NewSaramaAdmin(cfg kafka.Config) (*SaramaAdmin, error) {
	cfg.ApplyDefaults()
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = cfg.ClientID + "-admin"
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	ca, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return NewSaramaAdminFrom(ca), nil
}

func NewSaramaAdminFrom(ca sarama.ClusterAdmin) *SaramaAdmin { return &SaramaAdmin{ca: ca} }

func (a *SaramaAdmin) ListTopics(context.Context) ([]string, error) {
	m, err := a.ca.ListTopics()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (a *SaramaAdmin) CreateTopic(_ context.Context, s Spec) error {
	entries := make(map[string]*string, len(s.Configs))
	for k, v := range s.Configs {
		v := v
		entries[k] = &v
	}
	err := a.ca.CreateTopic(s.Name, &sarama.TopicDetail{
		NumPartitions:     s.Partitions,
		ReplicationFactor: s.ReplicationFactor,
		ConfigEntries:     entries,
	}, false)
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return ErrTopicExists
	}
	return err
}

func (a *SaramaAdmin) Close() error { return a.ca.Close() }

// MemoryAdmin administers an in-process broker.
type MemoryAdmin struct {
	b *kafka.Broker
}

func NewMemoryAdmin(b *kafka.Broker) *MemoryAdmin { return &MemoryAdmin{b: b} }

func (a *MemoryAdmin) ListTopics(context.Context) ([]string, error) {
	var out []string
	for name := range a.b.Topics() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (a *MemoryAdmin) CreateTopic(_ context.Context, s Spec) error {
	if !a.b.CreateTopic(s.Name, int(s.Partitions)) {
		return ErrTopicExists
	}
	return nil
}

func (a *MemoryAdmin) Close() error { return nil }
