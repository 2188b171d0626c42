package topics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kafnotif/internal/topics"
	"kafnotif/source/kafka"
)

type fakeClusterAdmin struct {
	sarama.ClusterAdmin
	existing map[string]sarama.TopicDetail
	created  map[string]*sarama.TopicDetail
	fail     map[string]error
	closed   bool
}

func (f *fakeClusterAdmin) ListTopics() (map[string]sarama.TopicDetail, error) {
	return f.existing, nil
}

func (f *fakeClusterAdmin) CreateTopic(name string, d *sarama.TopicDetail, _ bool) error {
	if err := f.fail[name]; err != nil {
		return err
	}
	if f.created == nil {
		f.created = map[string]*sarama.TopicDetail{}
	}
	f.created[name] = d
	return nil
}

func (f *fakeClusterAdmin) Close() error {
	f.closed = true
	return nil
}

func TestEnsureTopics_Sarama(t *testing.T) {
	ca := &fakeClusterAdmin{
		existing: map[string]sarama.TopicDetail{"notifications.sms": {}},
		fail:     map[string]error{"notifications.push": errors.New("not authorized")},
	}
	admin := topics.NewSaramaAdminFrom(ca)
	m := topics.NewManager(admin, topics.Options{
		Prefix:            "notifications",
		Partitions:        6,
		ReplicationFactor: 3,
		Retention:         48 * time.Hour,
		DeadLetter:        true,
		DeadLetterSuffix:  ".dlq",
	})

	created, err := m.EnsureTopics(context.Background(), []string{
		"notifications.email",
		"notifications.sms",
		"notifications.fax",
		"notifications.push",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"notifications.email",
		"notifications.email.dlq",
		"notifications.sms.dlq",
		"notifications.push.dlq",
	}, created)

	email := ca.created["notifications.email"]
	require.NotNil(t, email)
	assert.EqualValues(t, 6, email.NumPartitions)
	assert.EqualValues(t, 3, email.ReplicationFactor)
	assert.Equal(t, "172800000", *email.ConfigEntries["retention.ms"])
	assert.Equal(t, "lz4", *email.ConfigEntries["compression.type"])

	dlq := ca.created["notifications.email.dlq"]
	require.NotNil(t, dlq)
	assert.EqualValues(t, 1, dlq.NumPartitions)
	assert.EqualValues(t, 1, dlq.ReplicationFactor)

	require.NoError(t, admin.Close())
	assert.True(t, ca.closed)
}

func TestSaramaAdmin_ExistsIsMapped(t *testing.T) {
	ca := &fakeClusterAdmin{fail: map[string]error{"t": sarama.ErrTopicAlreadyExists}}
	err := topics.NewSaramaAdminFrom(ca).CreateTopic(context.Background(), topics.Spec{Name: "t", Partitions: 1, ReplicationFactor: 1})
	require.ErrorIs(t, err, topics.ErrTopicExists)
}

func TestEnsureTopics_Memory(t *testing.T) {
	b := kafka.NewBroker()
	b.CreateTopic("n.email", 1)
	m := topics.NewManager(topics.NewMemoryAdmin(b), topics.Options{Prefix: "n"})

	created, err := m.EnsureTopics(context.Background(), []string{"n.email", "n.slack", "other.sms"})
	require.NoError(t, err)
	assert.Equal(t, []string{"n.slack"}, created)
	assert.Equal(t, map[string]int{"n.email": 1, "n.slack": 3}, b.Topics())
}

func TestSpecs(t *testing.T) {
	m := topics.NewManager(topics.NewMemoryAdmin(kafka.NewBroker()), topics.Options{DeadLetter: true, DeadLetterSuffix: "-dead"})
	specs, err := m.Specs("webhook")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "webhook-dead", specs[1].Name)
	assert.Equal(t, "604800000", specs[0].Configs["retention.ms"])

	_, err = m.Specs("fax")
	require.Error(t, err)
}
