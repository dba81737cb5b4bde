package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	n, err := m.Del(ctx, "k", "missing")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "", "courier:")
	require.Error(t, err)

	_, err = NewRedis(context.Background(), "not a url", "courier:")
	require.Error(t, err)
}

// TestRedisUnreachable verifies a dead server surfaces as a transport error,
// not as a miss, so callers can tell the two apart.
func TestRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisFromClient(client, "courier:")
	defer func() { _ = r.Close() }()

	_, err := r.Get(context.Background(), "k")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMiss)

	n, err := r.Del(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}
