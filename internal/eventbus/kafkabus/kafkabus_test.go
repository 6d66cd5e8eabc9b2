package kafkabus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

// fakeWriter fails the first failures writes.
type fakeWriter struct {
	mu       sync.Mutex
	failures int
	attempts int
	written  []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.attempts <= w.failures {
		return errors.New("broker unavailable")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) snapshot() (int, []kafka.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts, append([]kafka.Message(nil), w.written...)
}

func envelopeMessage(t *testing.T, offset int64) (event.Envelope, kafka.Message) {
	t.Helper()
	env, err := event.New(event.PaymentCompleted, event.SourcePayment, 7, map[string]any{"orderId": 7})
	require.NoError(t, err)
	value, err := env.Encode()
	require.NoError(t, err)
	return env, kafka.Message{Topic: event.TopicPaymentEvents, Key: []byte("7"), Value: value, Offset: offset}
}

func testConsumer(h eventbus.Handler, w messageWriter) *consumer {
	c := newConsumer(
		subscription{topic: event.TopicPaymentEvents, group: "order-service", handler: h},
		eventbus.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		w,
	)
	c.backOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

// runConsumer runs c until the reader has seen want commits, then stops it.
func runConsumer(t *testing.T, c *consumer, r *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.run(ctx, r) }()

	require.Eventually(t, func() bool { return r.commits() >= want }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_CommitsAfterHandling(t *testing.T) {
	env, m := envelopeMessage(t, 0)
	r := &fakeReader{pending: []kafka.Message{m}}
	w := &fakeWriter{}

	var got []event.Envelope
	c := testConsumer(func(_ context.Context, e event.Envelope) error {
		got = append(got, e)
		return nil
	}, w)

	runConsumer(t, c, r, 1)

	require.Len(t, got, 1)
	assert.Equal(t, env.EventID, got[0].EventID)
	assert.Equal(t, int64(0), r.committed[0].Offset)
	attempts, _ := w.snapshot()
	assert.Zero(t, attempts)
}

func TestConsumer_DeadLetters(t *testing.T) {
	env, m := envelopeMessage(t, 3)
	garbage := kafka.Message{Topic: event.TopicPaymentEvents, Key: []byte("8"), Value: []byte("{not json"), Offset: 4}

	tests := []struct {
		name    string
		msg     kafka.Message
		handler eventbus.Handler
	}{
		{
			name:    "permanent failure",
			msg:     m,
			handler: func(context.Context, event.Envelope) error { return eventbus.Permanent(errors.New("bad payload")) },
		},
		{
			name:    "retries exhausted",
			msg:     m,
			handler: func(context.Context, event.Envelope) error { return errors.New("connection refused") },
		},
		{
			name:    "undecodable",
			msg:     garbage,
			handler: func(context.Context, event.Envelope) error { t.Error("handler must not run"); return nil },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeReader{pending: []kafka.Message{tc.msg}}
			w := &fakeWriter{}

			runConsumer(t, testConsumer(tc.handler, w), r, 1)

			_, written := w.snapshot()
			require.Len(t, written, 1)
			assert.Equal(t, "payment-events.dlq", written[0].Topic)
			assert.Equal(t, tc.msg.Key, written[0].Key)
			if tc.msg.Offset == garbage.Offset {
				assert.Equal(t, garbage.Value, written[0].Value)
				return
			}
			decoded, err := event.Decode(written[0].Value)
			require.NoError(t, err)
			assert.Equal(t, env.EventID, decoded.EventID)
		})
	}
}

func TestConsumer_CommitWaitsForDeadLetter(t *testing.T) {
	_, m := envelopeMessage(t, 0)
	r := &fakeReader{pending: []kafka.Message{m}}
	w := &fakeWriter{failures: 2}

	runConsumer(t, testConsumer(func(context.Context, event.Envelope) error {
		return eventbus.Permanent(errors.New("bad payload"))
	}, w), r, 1)

	attempts, written := w.snapshot()
	assert.Equal(t, 3, attempts)
	require.Len(t, written, 1)
	assert.Equal(t, 1, r.commits())
}

func TestConsumer_NoCommitWhileDeadLetterUnreachable(t *testing.T) {
	_, m := envelopeMessage(t, 0)
	r := &fakeReader{pending: []kafka.Message{m}}
	w := &fakeWriter{failures: 1 << 30}
	c := testConsumer(func(context.Context, event.Envelope) error {
		return eventbus.Permanent(errors.New("bad payload"))
	}, w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.run(ctx, r) }()

	require.Eventually(t, func() bool {
		attempts, _ := w.snapshot()
		return attempts >= 5
	}, 2*time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Zero(t, r.commits())
}

func TestReplay(t *testing.T) {
	env, m := envelopeMessage(t, 0)
	m.Topic = "payment-events.dlq"
	m.Headers = []kafka.Header{{Key: headerEventID, Value: []byte(env.EventID.String())}}
	_, second := envelopeMessage(t, 1)
	second.Topic = "payment-events.dlq"

	r := &fakeReader{pending: []kafka.Message{m, second}}
	w := &fakeWriter{}

	n, err := replay(context.Background(), r, w, event.TopicPaymentEvents, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, r.commits())

	_, written := w.snapshot()
	require.Len(t, written, 2)
	for i, out := range written {
		assert.Equal(t, event.TopicPaymentEvents, out.Topic)
		assert.Equal(t, r.committed[i].Value, out.Value)
		assert.Equal(t, r.committed[i].Key, out.Key)
	}
	assert.Equal(t, m.Headers, written[0].Headers)
}

func TestReplay_StopsOnPublishFailure(t *testing.T) {
	_, m := envelopeMessage(t, 0)
	r := &fakeReader{pending: []kafka.Message{m}}
	w := &fakeWriter{failures: 1}

	n, err := replay(context.Background(), r, w, event.TopicPaymentEvents, 20*time.Millisecond)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, r.commits())
}
