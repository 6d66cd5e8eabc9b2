// Package notify holds the notification sinks: Redis pub/sub for live
// clients and a log sink for local runs.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/fooddelivery-saga/internal/service/notification"
)

const (
	channelPrefix = "notifications:"
	historyPrefix = "notifications:history:"
	dedupPrefix   = "notifications:seen:"

	defaultHistorySize = 50
)

// RedisSink publishes each notification on the user's channel and keeps a
// short per-user history list for clients that connect late.
type RedisSink struct {
	client      redis.UniversalClient
	historySize int64
}

func NewRedisSink(client redis.UniversalClient, historySize int) *RedisSink {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &RedisSink{client: client, historySize: int64(historySize)}
}

func Channel(userID int64) string {
	return channelPrefix + strconv.FormatInt(userID, 10)
}

func HistoryKey(userID int64) string {
	return historyPrefix + strconv.FormatInt(userID, 10)
}

func (s *RedisSink) Deliver(ctx context.Context, userID int64, n notification.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("Deliver: marshal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, Channel(userID), body)
	pipe.LPush(ctx, HistoryKey(userID), body)
	pipe.LTrim(ctx, HistoryKey(userID), 0, s.historySize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Deliver: user %d: %w", userID, err)
	}
	return nil
}

// History returns the most recent notifications for userID, newest first.
func (s *RedisSink) History(ctx context.Context, userID int64, limit int64) ([]notification.Notification, error) {
	if limit <= 0 || limit > s.historySize {
		limit = s.historySize
	}
	raw, err := s.client.LRange(ctx, HistoryKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	out := make([]notification.Notification, 0, len(raw))
	for _, r := range raw {
		var n notification.Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			return nil, fmt.Errorf("History: decode: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// RedisDeduper remembers event ids for ttl with SETNX.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Claim: %w", err)
	}
	return ok, nil
}

// NewClient parses a redis:// URL and checks the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewClient: ping: %w", err)
	}
	return client, nil
}
