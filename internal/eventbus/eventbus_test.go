package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, _ event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return p.err
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func testEnvelope() event.Envelope {
	return event.Envelope{EventID: uuid.New(), EventType: event.PaymentCompleted, AggregateID: 9}
}

func TestPartition(t *testing.T) {
	for i := int64(0); i < 100; i++ {
		p := Partition(event.Key(i), 3)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 3)
		assert.Equal(t, p, Partition(event.Key(i), 3))
	}
	assert.Equal(t, 0, Partition("anything", 1))
}

func TestDeliver(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		permanent  bool
		attempts   int
		wantResult Result
		wantCalls  int
		wantDLQ    bool
	}{
		{name: "success first try", failures: 0, attempts: 3, wantResult: ResultAcked, wantCalls: 1},
		{name: "recovers after retries", failures: 2, attempts: 3, wantResult: ResultAcked, wantCalls: 3},
		{name: "exhausted", failures: 10, attempts: 3, wantResult: ResultDeadLettered, wantCalls: 3, wantDLQ: true},
		{name: "permanent", failures: 10, permanent: true, attempts: 3, wantResult: ResultDeadLettered, wantCalls: 1, wantDLQ: true},
		{name: "single attempt", failures: 1, attempts: 1, wantResult: ResultDeadLettered, wantCalls: 1, wantDLQ: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			calls := 0
			h := func(context.Context, event.Envelope) error {
				calls++
				if calls <= tc.failures {
					err := errors.New("boom")
					if tc.permanent {
						return Permanent(err)
					}
					return err
				}
				return nil
			}

			res, err := fastPolicy(tc.attempts).Deliver(context.Background(), pub, "payment-events", "order", "9", testEnvelope(), h)
			require.NoError(t, err)
			assert.Equal(t, tc.wantResult, res)
			assert.Equal(t, tc.wantCalls, calls)
			if tc.wantDLQ {
				assert.Equal(t, []string{"payment-events.dlq"}, pub.topics)
			} else {
				assert.Empty(t, pub.topics)
			}
		})
	}
}

func TestDeliver_MalformedIsPermanent(t *testing.T) {
	pub := &recordingPublisher{}
	calls := 0
	h := func(context.Context, event.Envelope) error {
		calls++
		return fmt.Errorf("decode: %w", event.ErrMalformed)
	}

	res, err := fastPolicy(5).Deliver(context.Background(), pub, "order-events", "delivery", "1", testEnvelope(), h)
	require.NoError(t, err)
	assert.Equal(t, ResultDeadLettered, res)
	assert.Equal(t, 1, calls)
}

func TestDeliver_DeadLetterPublishFails(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	h := func(context.Context, event.Envelope) error { return Permanent(errors.New("bad")) }

	_, err := fastPolicy(1).Deliver(context.Background(), pub, "order-events", "delivery", "1", testEnvelope(), h)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	var got []string
	reg.Handle(event.TopicPaymentEvents, event.PaymentCompleted, func(_ context.Context, env event.Envelope) error {
		got = append(got, env.EventType)
		return nil
	})
	reg.Handle(event.TopicDeliveryEvents, event.DeliveryPickedUp, func(context.Context, event.Envelope) error { return nil })

	assert.Equal(t, []string{event.TopicDeliveryEvents, event.TopicPaymentEvents}, reg.Topics())

	d := reg.Dispatcher(event.TopicPaymentEvents)
	require.NoError(t, d(context.Background(), event.Envelope{EventType: event.PaymentCompleted}))
	require.NoError(t, d(context.Background(), event.Envelope{EventType: event.PaymentInitiated}))
	assert.Equal(t, []string{event.PaymentCompleted}, got)

	assert.Panics(t, func() {
		reg.Handle(event.TopicPaymentEvents, event.PaymentCompleted, func(context.Context, event.Envelope) error { return nil })
	})
}

type fakeBus struct {
	recordingPublisher
	subs map[string]string
}

func (b *fakeBus) Subscribe(topic, group string, _ Handler) error {
	if b.subs == nil {
		b.subs = make(map[string]string)
	}
	b.subs[topic] = group
	return nil
}
func (b *fakeBus) Run(context.Context) error { return nil }
func (b *fakeBus) Close() error              { return nil }

func TestRegistryBind(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, event.Envelope) error { return nil }
	reg.Handle(event.TopicOrderEvents, event.OrderReadyForPickup, noop)
	reg.Handle(event.TopicOrderEvents, event.OrderCancelled, noop)

	bus := &fakeBus{}
	require.NoError(t, reg.Bind(bus, "delivery-service"))
	assert.Equal(t, map[string]string{event.TopicOrderEvents: "delivery-service"}, bus.subs)
}
