package redisclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
)

func TestNewAcceptsURLAndBareAddress(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, url := range []string{"redis://" + mr.Addr(), mr.Addr()} {
		client := New(config.RedisConfig{URL: url, PoolSize: 2})
		require.NoError(t, Ping(context.Background(), client))
		require.Equal(t, 2, client.Options().PoolSize)
		require.NoError(t, client.Close())
	}
}

func TestMaintNotificationsFilter(t *testing.T) {
	ctx := context.Background()
	require.True(t, isMaintNotifications(redis.NewStatusCmd(ctx, "client", "maint_notifications", "on")))
	require.False(t, isMaintNotifications(redis.NewStatusCmd(ctx, "client", "setname", "x")))
	require.False(t, isMaintNotifications(redis.NewStatusCmd(ctx, "ping")))
}
