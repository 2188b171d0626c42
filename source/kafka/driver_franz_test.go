package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// unreachable refuses connections immediately; nothing here needs a broker.
var unreachable = []string{"127.0.0.1:1"}

func TestFranzOffsets(t *testing.T) {
	got := franzOffsets([]Offset{
		{Topic: "n.email", Partition: 0, Next: 11},
		{Topic: "n.email", Partition: 2, Next: 4},
		{Topic: "n.sms", Partition: 1, Next: 1},
	})
	assert.Equal(t, map[string]map[int32]kgo.EpochOffset{
		"n.email": {0: {Epoch: -1, Offset: 11}, 2: {Epoch: -1, Offset: 4}},
		"n.sms":   {1: {Epoch: -1, Offset: 1}},
	}, got)
}

func TestCommitResponseErr(t *testing.T) {
	assert.NoError(t, commitResponseErr(nil, nil))

	resp := kmsg.NewPtrOffsetCommitResponse()
	topic := kmsg.NewOffsetCommitResponseTopic()
	topic.Topic = "n.email"
	ok := kmsg.NewOffsetCommitResponseTopicPartition()
	ok.Partition = 0
	bad := kmsg.NewOffsetCommitResponseTopicPartition()
	bad.Partition = 1
	bad.ErrorCode = kerr.RebalanceInProgress.Code
	topic.Partitions = append(topic.Partitions, ok, bad)
	resp.Topics = append(resp.Topics, topic)

	err := commitResponseErr(resp, nil)
	require.ErrorIs(t, err, kerr.RebalanceInProgress)
	assert.Contains(t, err.Error(), "n.email[1]")
}

func TestFranzConn_Lifecycle(t *testing.T) {
	c, err := NewFranzConn(Config{Brokers: unreachable, GroupID: "g"})
	require.NoError(t, err)

	_, err = c.Poll(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, ErrNotSubscribed)
	require.ErrorIs(t, c.Commit(context.Background(), []Offset{{Topic: "t", Next: 1}}, true), ErrNotSubscribed)

	require.NoError(t, c.Subscribe([]string{"n.email"}))
	require.Error(t, c.Subscribe([]string{"n.email"}))

	c.Wakeup()
	_, err = c.Poll(context.Background(), 10*time.Second)
	require.ErrorIs(t, err, ErrWakeup)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Poll(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.Commit(context.Background(), nil, false), ErrClosed)
}

func TestFranzConn_ReportsCommitErrors(t *testing.T) {
	c, err := NewFranzConn(Config{Brokers: unreachable, GroupID: "g"})
	require.NoError(t, err)
	var _ CommitErrorReporter = c.(*FranzConn)

	called := false
	c.(*FranzConn).OnCommitError(func([]Offset, error) { called = true })
	require.NoError(t, c.Subscribe([]string{"n.email"}))
	defer c.Close()

	fc := c.(*FranzConn)
	fc.commits.hookMu.RLock()
	fn := fc.commits.onError
	fc.commits.hookMu.RUnlock()
	require.NotNil(t, fn, "registration before Subscribe reaches the committer")
	fn(nil, nil)
	assert.True(t, called)
}
