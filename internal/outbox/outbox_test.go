package outbox_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/outbox"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
	"github.com/josh-kwaku/fooddelivery-saga/internal/testutil"
)

type published struct {
	topic string
	key   string
	env   event.Envelope
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []published
	failOn string
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, env event.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == f.failOn {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, published{topic: topic, key: key, env: env})
	return nil
}

func emit(t *testing.T, db *sql.DB, w *outbox.Writer, eventType string, orderID int64) event.Envelope {
	t.Helper()
	var env event.Envelope
	err := repository.WithTx(context.Background(), db, func(tx *sql.Tx) error {
		var err error
		env, err = w.Emit(context.Background(), tx, eventType, orderID, event.Key(orderID), event.OrderPayload{OrderID: orderID})
		return err
	})
	require.NoError(t, err)
	return env
}

func TestWriter_EmitsToTopicAndMirrorWithOneEventID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewOutboxRepository(db, repository.SchemaOrders)
	w := outbox.NewWriter(store, event.SourceOrder)

	emit(t, db, w, event.OrderCreated, 1)
	emit(t, db, w, event.OrderStatusChanged, 1)

	assert.Equal(t, 2, testutil.CountOutbox(t, db, repository.SchemaOrders, event.OrderCreated))
	assert.Equal(t, 1, testutil.CountOutbox(t, db, repository.SchemaOrders, event.OrderStatusChanged))

	var distinct int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(DISTINCT event_id) FROM orders.outbox_events WHERE event_type = $1`, event.OrderCreated,
	).Scan(&distinct))
	assert.Equal(t, 1, distinct)
}

func TestWriter_RollbackDiscardsRows(t *testing.T) {
	db := testutil.SetupTestDB(t)
	w := outbox.NewWriter(repository.NewOutboxRepository(db, repository.SchemaOrders), event.SourceOrder)

	err := repository.WithTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := w.Emit(context.Background(), tx, event.OrderCreated, 1, "1", event.OrderPayload{OrderID: 1}); err != nil {
			return err
		}
		return errors.New("mutation failed")
	})
	require.Error(t, err)
	assert.Equal(t, 0, testutil.CountOutbox(t, db, repository.SchemaOrders, event.OrderCreated))
}

func TestWriter_UnknownEventType(t *testing.T) {
	db := testutil.SetupTestDB(t)
	w := outbox.NewWriter(repository.NewOutboxRepository(db, repository.SchemaOrders), event.SourceOrder)

	err := repository.WithTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := w.Emit(context.Background(), tx, "ORDER_TELEPORTED", 1, "1", nil)
		return err
	})
	require.Error(t, err)
}

func TestRelay_FlushPublishesInOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewOutboxRepository(db, repository.SchemaOrders)
	w := outbox.NewWriter(store, event.SourceOrder)
	pub := &fakePublisher{}
	relay := outbox.NewRelay(store, db, pub, event.SourceOrder, outbox.RelayConfig{BatchSize: 10}, slog.Default())

	first := emit(t, db, w, event.OrderConfirmed, 1)
	second := emit(t, db, w, event.OrderPreparing, 1)

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Len(t, pub.sent, 4)
	assert.Equal(t, event.TopicOrderConfirmed, pub.sent[0].topic)
	assert.Equal(t, event.TopicOrderEvents, pub.sent[1].topic)
	assert.Equal(t, first.EventID, pub.sent[1].env.EventID)
	assert.Equal(t, second.EventID, pub.sent[3].env.EventID)
	assert.Equal(t, "1", pub.sent[3].key)

	n, err = relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_StopsBatchOnFailureAndResendsSameEventID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewOutboxRepository(db, repository.SchemaOrders)
	w := outbox.NewWriter(store, event.SourceOrder)
	pub := &fakePublisher{failOn: event.TopicOrderEvents}
	relay := outbox.NewRelay(store, db, pub, event.SourceOrder, outbox.RelayConfig{BatchSize: 10}, slog.Default())

	env := emit(t, db, w, event.OrderConfirmed, 1)
	emit(t, db, w, event.OrderPreparing, 1)

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	pub.failOn = ""
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, env.EventID, pub.sent[1].env.EventID)
	assert.Equal(t, event.TopicOrderEvents, pub.sent[1].topic)
}

func TestRelay_ParksAfterMaxAttempts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewOutboxRepository(db, repository.SchemaOrders)
	w := outbox.NewWriter(store, event.SourceOrder)
	pub := &fakePublisher{failOn: event.TopicOrderEvents}
	relay := outbox.NewRelay(store, db, pub, event.SourceOrder, outbox.RelayConfig{BatchSize: 10, MaxAttempts: 2}, slog.Default())

	emit(t, db, w, event.OrderStatusChanged, 1)

	for range 2 {
		_, err := relay.Flush(ctx)
		require.NoError(t, err)
	}

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM orders.outbox_events`).Scan(&status))
	assert.Equal(t, "failed", status)
}
