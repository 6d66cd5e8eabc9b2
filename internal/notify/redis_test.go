package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/service/notification"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSink_PublishesAndKeepsHistory(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	sink := NewRedisSink(client, 2)

	sub := client.Subscribe(ctx, Channel(101))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	for i, title := range []string{"Order Placed", "Order Confirmed", "Order Preparing"} {
		require.NoError(t, sink.Deliver(ctx, 101, notification.Notification{
			UserID: 101, Title: title, EntityID: int64(i + 1),
		}))
	}

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, Channel(101), msg.Channel)
	assert.Contains(t, msg.Payload, `"title":"Order Placed"`)

	history, err := sink.History(ctx, 101, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Order Preparing", history[0].Title)
	assert.Equal(t, "Order Confirmed", history[1].Title)
}

func TestRedisSink_ErrorWhenRedisDown(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	err := NewRedisSink(client, 0).Deliver(context.Background(), 1, notification.Notification{Title: "x"})
	require.Error(t, err)
}

func TestRedisDeduper(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	dedup := NewRedisDeduper(client, time.Minute)

	first, err := dedup.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := dedup.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(2 * time.Minute)

	expired, err := dedup.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestNewClient(t *testing.T) {
	mr, _ := setupRedis(t)

	client, err := NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = NewClient(context.Background(), "not a url")
	require.Error(t, err)
}
