package status_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kafnotif/internal/event"
	"kafnotif/internal/hooks"
	"kafnotif/internal/status"
)

func stores(t *testing.T) map[string]status.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cl.Close() })
	return map[string]status.Store{
		"memory": status.NewMemory(),
		"redis":  status.NewRedis(cl, time.Hour),
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, status.ErrNotFound)

			want := status.Record{ID: "e1", Channel: "email", State: status.StateSent, Attempts: 2, UpdatedAt: time.Now().UTC().Truncate(time.Second)}
			require.NoError(t, s.Put(ctx, want))
			got, err := s.Get(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, want.State, got.State)
			assert.Equal(t, want.Attempts, got.Attempts)
			assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
		})
	}
}

func TestRedis_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := status.NewRedis(cl, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, status.Record{ID: "e1", State: status.StateProcessing}))
	assert.Equal(t, time.Minute, mr.TTL("kafnotif:status:e1"))
	mr.FastForward(2 * time.Minute)
	_, err := s.Get(ctx, "e1")
	require.ErrorIs(t, err, status.ErrNotFound)
	require.NoError(t, s.Close())
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := status.DialRedis(context.Background(), "redis://"+mr.Addr()+"/0", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())

	_, err = status.DialRedis(context.Background(), "::not a url", time.Hour)
	require.Error(t, err)
}

func TestHooks_RetryThenSent(t *testing.T) {
	s := status.NewMemory()
	d := hooks.NewDispatcher(status.Hooks(s))
	ctx := context.Background()
	ev := event.NewEmail("a@b.com", "s", "b")

	require.True(t, d.BeforeSend(ctx, ev, nil))
	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateProcessing, got.State)
	assert.Equal(t, "email", got.Channel)

	d.OnRetry(ctx, ev, 1, 3, errors.New("timeout"))
	got, _ = s.Get(ctx, ev.ID)
	assert.Equal(t, status.StateRetrying, got.State)
	assert.Equal(t, "timeout", got.LastError)

	d.AfterSend(ctx, ev, true, nil, nil)
	got, _ = s.Get(ctx, ev.ID)
	assert.Equal(t, status.StateSent, got.State)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.LastError)
}

func TestHooks_PermanentFailure(t *testing.T) {
	s := status.NewMemory()
	d := hooks.NewDispatcher(status.Hooks(s))
	ctx := context.Background()
	ev := event.NewSMS("+15555550100", "x")

	d.BeforeSend(ctx, ev, nil)
	d.OnPermanentFailure(ctx, ev, errors.New("no handler"), nil)
	d.AfterSend(ctx, ev, false, errors.New("no handler"), nil)

	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateFailed, got.State)
	assert.Equal(t, "no handler", got.LastError)
	assert.Equal(t, 1, s.Len())
}

type brokenStore struct{ status.Store }

func (brokenStore) Put(context.Context, status.Record) error { return errors.New("down") }

func TestHooks_StoreErrorFailsOpen(t *testing.T) {
	d := hooks.NewDispatcher(status.Hooks(brokenStore{status.NewMemory()}))
	assert.True(t, d.BeforeSend(context.Background(), event.NewSlack("#a", "b"), nil))
}
