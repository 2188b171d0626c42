package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kafnotif/internal/ack"
	"kafnotif/internal/event"
	"kafnotif/internal/executor"
	"kafnotif/internal/hooks"
	"kafnotif/internal/notifier"
	"kafnotif/internal/pipeline"
	"kafnotif/internal/publisher"
	"kafnotif/internal/retry"
	sinkkafka "kafnotif/sink/kafka"
	"kafnotif/source/kafka"
)

const topic = "notifications.email"

type sent struct {
	mu  sync.Mutex
	ids []string
}

func (s *sent) add(id string) {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

func (s *sent) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

type harness struct {
	broker *kafka.Broker
	pool   *pipeline.Pool
	sent   *sent
}

type setup struct {
	mode    ack.Mode
	handler func(n *event.Notification) error
	policy  retry.Policy
	dlq     bool
	hooks   hooks.Hooks
	workers int
	grace   time.Duration
	dial    func(b *kafka.Broker) pipeline.Dialer
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	b := kafka.NewBroker()
	b.CreateTopic(topic, 2)
	h := &harness{broker: b, sent: &sent{}}

	handler := notifier.HandlerFunc(func(_ context.Context, n *event.Notification) error {
		h.sent.add(n.ID)
		if s.handler != nil {
			return s.handler(n)
		}
		return nil
	})
	var opts []retry.Option
	if s.dlq {
		opts = append(opts, retry.WithDeadLetter(publisher.NewDeadLetter(sinkkafka.NewMemory(b), ".dlq")))
	}
	opts = append(opts, retry.WithHooks(hooks.NewDispatcher(s.hooks)))
	engine := retry.NewEngine(s.policy, notifier.NewRegistry(map[event.Channel]notifier.Handler{event.ChannelEmail: handler}), opts...)

	cfg := pipeline.Config{
		Driver:        "memory",
		Kafka:         kafka.Config{GroupID: "g", ClientID: "test", StartFrom: kafka.StartEarliest},
		Topics:        []string{topic},
		Concurrency:   max(s.workers, 1),
		AckMode:       s.mode,
		PollTimeout:   10 * time.Millisecond,
		ShutdownGrace: time.Second,
		TaskGrace:     time.Second,
		Executor:      executor.Options{Mode: executor.ModeFixed, Size: 4},
	}
	if s.grace > 0 {
		cfg.TaskGrace = s.grace
	}
	dial := pipeline.Dialer(b.Open)
	if s.dial != nil {
		dial = s.dial(b)
	}
	h.pool = pipeline.New(cfg, engine, pipeline.WithHooks(s.hooks), pipeline.WithDialer(dial))
	return h
}

func (h *harness) publish(t *testing.T, n int) []*event.Notification {
	t.Helper()
	pub := publisher.New(sinkkafka.NewMemory(h.broker), "notifications")
	out := make([]*event.Notification, n)
	for i := range out {
		out[i] = event.NewEmail("a@b.com", "hi", "body")
		require.NoError(t, pub.Publish(context.Background(), out[i]))
	}
	return out
}

func (h *harness) committedTotal() int64 {
	var total int64
	for p := int32(0); p < 2; p++ {
		if off, ok := h.broker.Committed("g", topic, p); ok {
			total += off
		}
	}
	return total
}

func (h *harness) coordinatorCommits() []kafka.CommitCall { return h.broker.Commits() }

func TestPool_AutoModeLeavesCommitsToDriver(t *testing.T) {
	h := newHarness(t, setup{mode: ack.ModeAuto})
	h.publish(t, 6)
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool { return h.sent.len() == 6 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())

	assert.Empty(t, h.coordinatorCommits(), "auto mode issues no explicit commits")
	assert.EqualValues(t, 6, h.committedTotal(), "driver commits on fetch")
}

func TestPool_ManualCommitsHighestAcknowledged(t *testing.T) {
	var seen []ack.Control
	var mu sync.Mutex
	h := newHarness(t, setup{mode: ack.ModeManual, workers: 2, hooks: hooks.Hooks{
		AfterSend: func(_ context.Context, _ *event.Notification, _ bool, _ error, ctl ack.Control) {
			mu.Lock()
			seen = append(seen, ctl)
			mu.Unlock()
		},
	}})
	h.publish(t, 10)
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool { return h.committedTotal() == 10 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())

	assert.Equal(t, 10, h.sent.len())
	for _, c := range h.coordinatorCommits() {
		for _, o := range c.Offsets {
			assert.Greater(t, o.Next, int64(0))
		}
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 10)
	for _, c := range seen {
		assert.IsType(t, &ack.Handle{}, c, "manual modes hand hooks the handle")
	}
}

func TestPool_ManualImmediateCommitsSynchronously(t *testing.T) {
	h := newHarness(t, setup{mode: ack.ModeManualImmediate})
	h.publish(t, 4)
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool { return h.committedTotal() == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())

	commits := h.coordinatorCommits()
	require.NotEmpty(t, commits)
	for _, c := range commits {
		assert.False(t, c.Async)
		assert.Len(t, c.Offsets, 1)
	}
}

func TestPool_CommittedOffsetsNeverDecrease(t *testing.T) {
	h := newHarness(t, setup{mode: ack.ModeManual, handler: func(*event.Notification) error {
		time.Sleep(time.Millisecond)
		return nil
	}})
	h.publish(t, 30)
	require.NoError(t, h.pool.Start(context.Background()))
	require.Eventually(t, func() bool { return h.committedTotal() == 30 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())

	last := map[kafka.TopicPartition]int64{}
	for _, c := range h.coordinatorCommits() {
		for _, o := range c.Offsets {
			assert.GreaterOrEqual(t, o.Next, last[o.TP()])
			last[o.TP()] = o.Next
		}
	}
}

func TestPool_VetoSkipsDeliveryButAcknowledges(t *testing.T) {
	var afterSend int
	var mu sync.Mutex
	var vetoID string
	h := newHarness(t, setup{mode: ack.ModeManual, hooks: hooks.Hooks{
		BeforeSend: func(_ context.Context, ev *event.Notification, _ ack.Control) (bool, error) {
			return ev.ID != vetoID, nil
		},
		AfterSend: func(context.Context, *event.Notification, bool, error, ack.Control) {
			mu.Lock()
			afterSend++
			mu.Unlock()
		},
	}})
	evs := h.publish(t, 3)
	vetoID = evs[1].ID
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool { return h.committedTotal() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())

	assert.Equal(t, 2, h.sent.len())
	assert.NotContains(t, h.sent.ids, vetoID)
	mu.Lock()
	assert.Equal(t, 2, afterSend)
	mu.Unlock()
}

func TestPool_BeforeSendErrorFailsOpen(t *testing.T) {
	h := newHarness(t, setup{mode: ack.ModeManual, hooks: hooks.Hooks{
		BeforeSend: func(context.Context, *event.Notification, ack.Control) (bool, error) {
			return false, errors.New("status store down")
		},
		AfterSend: func(context.Context, *event.Notification, bool, error, ack.Control) { panic("hook bug") },
	}})
	h.publish(t, 2)
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool { return h.committedTotal() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())
	assert.Equal(t, 2, h.sent.len())
}

func TestPool_ExhaustedRetriesGoToDeadLetter(t *testing.T) {
	var mu sync.Mutex
	var results []bool
	h := newHarness(t, setup{
		mode:    ack.ModeManual,
		policy:  retry.Policy{MaxRetries: 2},
		dlq:     true,
		handler: func(*event.Notification) error { return errors.New("provider down") },
		hooks: hooks.Hooks{AfterSend: func(_ context.Context, _ *event.Notification, ok bool, _ error, _ ack.Control) {
			mu.Lock()
			results = append(results, ok)
			mu.Unlock()
		}},
	})
	evs := h.publish(t, 1)
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool { return h.committedTotal() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())

	assert.Equal(t, 3, h.sent.len())
	dead := h.broker.Records(topic + ".dlq")
	require.Len(t, dead, 1)
	assert.Equal(t, evs[0].ID, string(dead[0].Key))
	mu.Lock()
	assert.Equal(t, []bool{false}, results)
	mu.Unlock()
}

func TestPool_UndecodableRecordIsDeadLetteredAndAcknowledged(t *testing.T) {
	h := newHarness(t, setup{mode: ack.ModeManual, dlq: true})
	h.broker.Produce(topic, []byte("k"), []byte("{not json"), nil)
	h.broker.Produce(topic, []byte("k"), []byte(`{"id":"x","notificationType":"fax"}`), nil)
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool { return h.committedTotal() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.pool.Stop())

	assert.Zero(t, h.sent.len())
	dead := h.broker.Records(topic + ".dlq")
	require.Len(t, dead, 2)
	assert.Equal(t, "{not json", string(dead[0].Value))
}

func TestPool_StopFlushesPendingAcknowledgments(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, setup{mode: ack.ModeManual, handler: func(*event.Notification) error {
		<-release
		return nil
	}})
	h.publish(t, 3)
	require.NoError(t, h.pool.Start(context.Background()))
	require.Eventually(t, func() bool { return h.pool.InFlight() == 3 }, 2*time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, h.pool.Stop())
	assert.False(t, h.pool.Running())
	assert.EqualValues(t, 3, h.committedTotal(), "final flush commits what finished during the grace period")
	require.NoError(t, h.pool.Stop())
}

func TestPool_InterruptedRetryLeavesMessageUncommitted(t *testing.T) {
	h := newHarness(t, setup{
		mode:    ack.ModeManual,
		policy:  retry.Policy{MaxRetries: 3, Delay: time.Hour},
		handler: func(*event.Notification) error { return errors.New("transient") },
		grace:   20 * time.Millisecond,
	})
	h.publish(t, 1)
	require.NoError(t, h.pool.Start(context.Background()))
	require.Eventually(t, func() bool { return h.sent.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	err := h.pool.Stop()
	require.ErrorIs(t, err, executor.ErrShutdownTimeout)
	assert.Zero(t, h.committedTotal())
}

func TestPool_ConsumeReturnsOnContextCancel(t *testing.T) {
	h := newHarness(t, setup{mode: ack.ModeManual})
	h.publish(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pool.Consume(ctx) }()

	require.Eventually(t, func() bool { return h.committedTotal() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Consume did not return")
	}
}

type brokenConn struct {
	kafka.Conn
	err error
}

func (c *brokenConn) Poll(context.Context, time.Duration) ([]kafka.Record, error) { return nil, c.err }

func TestPool_PollErrorStopsOnlyThatWorker(t *testing.T) {
	h := newHarness(t, setup{mode: ack.ModeManual, workers: 2, dial: func(b *kafka.Broker) pipeline.Dialer {
		dialed := 0
		return func(cfg kafka.Config) (kafka.Conn, error) {
			c, err := b.Open(cfg)
			dialed++
			if dialed == 1 {
				return &brokenConn{Conn: c, err: errors.New("broker gone")}, err
			}
			return c, err
		}
	}})
	h.publish(t, 12)
	var healthy int64
	for _, r := range h.broker.Records(topic) {
		if r.Partition == 1 {
			healthy++
		}
	}
	require.NotZero(t, healthy, "keys spread over both partitions")
	require.NoError(t, h.pool.Start(context.Background()))

	require.Eventually(t, func() bool {
		off, ok := h.broker.Committed("g", topic, 1)
		return ok && off == healthy
	}, 2*time.Second, 5*time.Millisecond, "the healthy worker keeps consuming and committing")
	assert.EqualValues(t, healthy, h.sent.len())
	assert.True(t, h.pool.Running())
	select {
	case <-h.pool.Done():
		t.Fatal("pool reported every worker gone")
	default:
	}
	_, ok := h.broker.Committed("g", topic, 0)
	assert.False(t, ok, "the failed worker's partition is left uncommitted")
	require.NoError(t, h.pool.Stop())
}

func TestPool_AllWorkersFailingEndsConsume(t *testing.T) {
	b := kafka.NewBroker()
	engine := retry.NewEngine(retry.Policy{}, notifier.NewRegistry(nil))
	dial := func(cfg kafka.Config) (kafka.Conn, error) {
		c, err := b.Open(cfg)
		return &brokenConn{Conn: c, err: errors.New("broker gone")}, err
	}
	p := pipeline.New(pipeline.Config{Topics: []string{topic}, Concurrency: 2, AckMode: ack.ModeManual}, engine, pipeline.WithDialer(dial))

	err := p.Consume(context.Background())
	require.ErrorIs(t, err, pipeline.ErrWorkersExited)
}

func TestPool_StartErrors(t *testing.T) {
	engine := retry.NewEngine(retry.Policy{}, notifier.NewRegistry(nil))

	p := pipeline.New(pipeline.Config{}, engine)
	require.ErrorIs(t, p.Start(context.Background()), pipeline.ErrNoTopics)

	boom := errors.New("dial failed")
	p = pipeline.New(pipeline.Config{Topics: []string{topic}}, engine,
		pipeline.WithDialer(func(kafka.Config) (kafka.Conn, error) { return nil, boom }))
	require.ErrorIs(t, p.Start(context.Background()), boom)
	require.ErrorIs(t, p.Start(context.Background()), pipeline.ErrAlreadyStarted)
	require.NoError(t, p.Stop())
}
