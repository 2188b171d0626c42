package topics

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"kafnotif/internal/event"
	"kafnotif/internal/logging"
)

type Options struct {
	Prefix            string
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
	DeadLetter        bool
	DeadLetterSuffix  string
}

type Manager struct {
	admin Admin
	opts  Options
	log   *slog.Logger
}

func NewManager(admin Admin, o Options) *Manager {
	if o.Partitions < 1 {
		o.Partitions = 3
	}
	if o.ReplicationFactor < 1 {
		o.ReplicationFactor = 1
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	return &Manager{admin: admin, opts: o, log: logging.For("topics")}
}

func (m *Manager) configs() map[string]string {
	return map[string]string{
		"retention.ms":        strconv.FormatInt(m.opts.Retention.Milliseconds(), 10),
		"compression.type":    "lz4",
		"min.insync.replicas": "1",
	}
}

// Specs returns what EnsureTopics would create for topic, or an error when
// the topic does not map to a channel.
func (m *Manager) Specs(topic string) ([]Spec, error) {
	if _, err := event.ChannelFromTopic(m.opts.Prefix, topic); err != nil {
		return nil, err
	}
	out := []Spec{{
		Name:              topic,
		Partitions:        m.opts.Partitions,
		ReplicationFactor: m.opts.ReplicationFactor,
		Configs:           m.configs(),
	}}
	if m.opts.DeadLetter {
		out = append(out, Spec{
			Name:              event.DeadLetterTopic(topic, m.opts.DeadLetterSuffix),
			Partitions:        1,
			ReplicationFactor: 1,
			Configs:           m.configs(),
		})
	}
	return out, nil
}

// EnsureTopics creates any missing channel topic and, when dead-lettering
// is on, its dead-letter topic. A topic that fails is logged and skipped.
// Only a failure to list the cluster's topics is returned.
func (m *Manager) EnsureTopics(ctx context.Context, topics []string) (created []string, err error) {
	existing, err := m.admin.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	for _, topic := range topics {
		specs, err := m.Specs(topic)
		if err != nil {
			m.log.Warn("skipping topic setup", "topic", topic, "err", err)
			continue
		}
		for _, s := range specs {
			if slices.Contains(existing, s.Name) {
				m.log.Debug("topic exists", "topic", s.Name)
				continue
			}
			switch err := m.admin.CreateTopic(ctx, s); {
			case errors.Is(err, ErrTopicExists):
				m.log.Debug("topic created concurrently", "topic", s.Name)
			case err != nil:
				m.log.Warn("topic creation failed", "topic", s.Name, "err", err)
			default:
				m.log.Info("created topic", "topic", s.Name, "partitions", s.Partitions, "replication_factor", s.ReplicationFactor)
				created = append(created, s.Name)
			}
		}
	}
	return created, nil
}
