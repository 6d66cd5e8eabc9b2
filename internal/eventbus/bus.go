// Package eventbus defines the partitioned publish/subscribe contract shared
// by every service, together with the consumer-side delivery policy.
package eventbus

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
)

// Handler applies one event. A nil return acknowledges it; an error wrapped
// with Permanent dead-letters it; any other error is retried.
type Handler func(ctx context.Context, env event.Envelope) error

type Publisher interface {
	Publish(ctx context.Context, topic, key string, env event.Envelope) error
}

type Bus interface {
	Publisher
	Subscribe(topic, group string, h Handler) error
	Run(ctx context.Context) error
	Close() error
}

var balancer = &kafka.Hash{}

// Partition maps a key onto one of n partitions using the same hash the
// Kafka writer uses, so every implementation agrees on placement.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	partitions := make([]int, n)
	for i := range partitions {
		partitions[i] = i
	}
	return balancer.Balance(kafka.Message{Key: []byte(key)}, partitions...)
}
