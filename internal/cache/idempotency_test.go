package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestClaimIsFirstWriterWins(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewIdempotencyCache(client, "webhook", time.Hour)
	ctx := context.Background()

	first, err := c.Claim(ctx, "msg_1")
	require.NoError(t, err)
	require.True(t, first)

	again, err := c.Claim(ctx, "msg_1")
	require.NoError(t, err)
	require.False(t, again)
	require.True(t, mr.Exists("webhook:msg_1"))

	require.NoError(t, c.Release(ctx, "msg_1"))
	retried, err := c.Claim(ctx, "msg_1")
	require.NoError(t, err)
	require.True(t, retried)
}

func TestClaimExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewIdempotencyCache(client, "", time.Minute)
	ctx := context.Background()
	ok, err := c.Claim(ctx, "msg_2")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = c.Claim(ctx, "msg_2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNilCacheClaimsEverything(t *testing.T) {
	var c *IdempotencyCache
	ok, err := c.Claim(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Release(context.Background(), "x"))
}
