package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client), mr
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	_, err := r.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, r.Delete(ctx, "k"))
	_, err = r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisTTLExpiry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Second))

	mr.FastForward(2 * time.Second)

	_, err := r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisDeleteNoKeys(t *testing.T) {
	r, _ := newTestRedis(t)
	assert.NoError(t, r.Delete(context.Background()))
}

func TestRedisFallbackIntegration(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	var calls int
	loader := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("loaded"), nil
	}

	v, err := GetWithFallback(ctx, r, "k", loader, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("loaded"), v)
	assert.Equal(t, 1, calls)

	// Cached until the server-side TTL lapses.
	_, err = GetWithFallback(ctx, r, "k", loader, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	mr.FastForward(2 * time.Second)

	_, err = GetWithFallback(ctx, r, "k", loader, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
