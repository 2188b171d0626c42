package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCommits struct {
	mu   sync.Mutex
	seen []int64
	fail map[int64]error
}

func (r *recordingCommits) commit(_ context.Context, offsets []Offset) error {
	// Earlier commits are slower, so unordered issuing would land them last.
	time.Sleep(time.Duration(20-offsets[0].Next) * time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, offsets[0].Next)
	return r.fail[offsets[0].Next]
}

func (r *recordingCommits) order() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seen...)
}

func TestCommitter_AsyncCommitsLandInIssueOrder(t *testing.T) {
	rc := &recordingCommits{}
	c := newCommitter("test", rc.commit)

	for next := int64(11); next <= 15; next++ {
		require.NoError(t, c.commit(context.Background(), []Offset{{Topic: "t", Next: next}}, true))
	}
	c.close()
	assert.Equal(t, []int64{11, 12, 13, 14, 15}, rc.order())
}

func TestCommitter_SyncWaitsBehindQueuedAsync(t *testing.T) {
	boom := errors.New("rebalance in progress")
	rc := &recordingCommits{fail: map[int64]error{3: boom}}
	c := newCommitter("test", rc.commit)
	defer c.close()

	require.NoError(t, c.commit(context.Background(), []Offset{{Topic: "t", Next: 1}}, true))
	require.NoError(t, c.commit(context.Background(), []Offset{{Topic: "t", Next: 2}}, false))
	assert.Equal(t, []int64{1, 2}, rc.order())

	require.ErrorIs(t, c.commit(context.Background(), []Offset{{Topic: "t", Next: 3}}, false), boom)
}

func TestCommitter_ReportsAsyncFailures(t *testing.T) {
	boom := errors.New("coordinator not available")
	rc := &recordingCommits{fail: map[int64]error{7: boom}}
	c := newCommitter("test", rc.commit)

	got := make(chan []Offset, 1)
	c.setOnError(func(offsets []Offset, err error) {
		assert.ErrorIs(t, err, boom)
		got <- offsets
	})
	require.NoError(t, c.commit(context.Background(), []Offset{{Topic: "t", Partition: 2, Next: 7}}, true))
	c.close()

	select {
	case offs := <-got:
		assert.Equal(t, []Offset{{Topic: "t", Partition: 2, Next: 7}}, offs)
	default:
		t.Fatal("async failure was not reported")
	}
}

func TestCommitter_ClosedRejectsCommits(t *testing.T) {
	c := newCommitter("test", func(context.Context, []Offset) error { return nil })
	c.close()
	c.close()
	require.ErrorIs(t, c.commit(context.Background(), []Offset{{Topic: "t", Next: 1}}, true), ErrClosed)
}
