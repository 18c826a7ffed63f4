package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetAndGetRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestGetExpiredKeyReturnsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncrStartsAtOneAndAccumulates(t *testing.T) {
	s := New()
	ctx := context.Background()

	n, err := s.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestAcquireLockRejectsSecondHolderUntilReleased(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLock(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, "lock", "a"))

	ok, err = s.AcquireLock(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPublishDeliversToActiveSubscribers(t *testing.T) {
	s := New()
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx, "topic")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Publish(ctx, "topic", []byte("hello")))

	select {
	case got := <-ch:
		require.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
