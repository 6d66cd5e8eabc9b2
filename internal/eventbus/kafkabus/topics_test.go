package kafkabus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
)

func TestTopicConfigs(t *testing.T) {
	configs := TopicConfigs([]string{event.TopicOrderEvents, event.TopicPaymentEvents},
		TopicSpec{Partitions: 3, ReplicationFactor: 1}, event.DeadLetterTopic)

	require.Len(t, configs, 4)
	assert.Equal(t, "order-events", configs[0].Topic)
	assert.Equal(t, "order-events.dlq", configs[1].Topic)
	for _, c := range configs {
		assert.Equal(t, 3, c.NumPartitions)
		assert.Equal(t, 1, c.ReplicationFactor)
	}

	assert.Len(t, TopicConfigs([]string{"a"}, TopicSpec{Partitions: 1, ReplicationFactor: 1}, nil), 1)
}

func TestEnsureTopics_NoBrokers(t *testing.T) {
	require.Error(t, EnsureTopics(context.Background(), nil, nil))
}

func TestSubscribe_RejectsDuplicate(t *testing.T) {
	b := New(Config{Brokers: []string{"localhost:9092"}}, nil)
	t.Cleanup(func() { b.writer.Close() })

	noop := func(context.Context, event.Envelope) error { return nil }
	require.NoError(t, b.Subscribe(event.TopicOrderEvents, "delivery-service", noop))
	require.NoError(t, b.Subscribe(event.TopicOrderEvents, "notification-service", noop))
	require.Error(t, b.Subscribe(event.TopicOrderEvents, "delivery-service", noop))
}
