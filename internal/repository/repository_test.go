package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
	"github.com/josh-kwaku/fooddelivery-saga/internal/testutil"
)

func ledgerHas(t *testing.T, db *sql.DB, schema string, eventID uuid.UUID) bool {
	t.Helper()
	var exists bool
	require.NoError(t, db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM `+schema+`.processed_events WHERE event_id = $1)`, eventID,
	).Scan(&exists))
	return exists
}

func TestOrderRepository_RoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewOrderRepository(db)

	o := testutil.SeedOrder(t, db, domain.OrderStatusPending, domain.PaymentStatusPending)
	require.NotZero(t, o.ID)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Len(t, got.Items, 2)
	assert.True(t, got.Subtotal.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, got.Tax.Equal(decimal.RequireFromString("2.00")))
	assert.True(t, got.Total.Equal(decimal.RequireFromString("29.99")))
	require.NotNil(t, got.DeliveryLatitude)
	assert.InDelta(t, 12.9352, *got.DeliveryLatitude, 1e-9)

	paymentID := int64(9)
	err = repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		locked, err := repo.GetForUpdate(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if err := locked.ApplyPaymentCompleted(paymentID); err != nil {
			return err
		}
		return repo.Update(ctx, tx, locked)
	})
	require.NoError(t, err)

	got, err = repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, got.PaymentStatus)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, paymentID, *got.PaymentID)

	orders, err := repo.ListByCustomer(ctx, testutil.CustomerID, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	orders, err = repo.ListByRestaurant(ctx, testutil.RestaurantID, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].ID)

	orders, err = repo.ListByRestaurant(ctx, testutil.RestaurantID+1, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrderRepository_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)

	_, err := repository.NewOrderRepository(db).GetByID(context.Background(), 404)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentRepository_OneLivePaymentPerOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewPaymentRepository(db)

	newPayment := func(gatewayOrderID string) *domain.Payment {
		return &domain.Payment{
			OrderID:        7,
			CustomerID:     testutil.CustomerID,
			Amount:         decimal.RequireFromString("17.03"),
			Currency:       domain.DefaultCurrency,
			Status:         domain.PaymentStatusPending,
			GatewayOrderID: &gatewayOrderID,
		}
	}

	first := newPayment("gw_order_1")
	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		return repo.Create(ctx, tx, first)
	}))

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		return repo.Create(ctx, tx, newPayment("gw_order_2"))
	})
	require.ErrorIs(t, err, domain.ErrDuplicatePayment)

	live, err := repo.GetLiveByOrderID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, live.ID)

	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		p, err := repo.GetByGatewayOrderIDForUpdate(ctx, tx, "gw_order_1")
		if err != nil {
			return err
		}
		if err := p.Fail("declined"); err != nil {
			return err
		}
		return repo.Update(ctx, tx, p)
	}))

	_, err = repo.GetLiveByOrderID(ctx, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// a failed payment no longer blocks a retry
	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		return repo.Create(ctx, tx, newPayment("gw_order_3"))
	}))
}

func TestDeliveryRepository_CreateIsIdempotentPerOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewDeliveryRepository(db)

	newDelivery := func() *domain.Delivery {
		return &domain.Delivery{
			OrderID:         55,
			RestaurantID:    testutil.RestaurantID,
			CustomerID:      testutil.CustomerID,
			Status:          domain.DeliveryStatusAssigned,
			PickupAddress:   domain.DefaultPickupAddress,
			DeliveryAddress: "42 Residency Road",
			DeliveryFee:     domain.OrderDeliveryFee,
		}
	}

	d := newDelivery()
	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		return repo.Create(ctx, tx, d)
	}))
	require.NotZero(t, d.ID)

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		return repo.Create(ctx, tx, newDelivery())
	})
	require.ErrorIs(t, err, domain.ErrDuplicateDelivery)

	available, err := repo.ListAvailable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, available, 1)

	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		locked, err := repo.GetByOrderIDForUpdate(ctx, tx, 55)
		if err != nil {
			return err
		}
		if err := locked.Accept(testutil.AgentID); err != nil {
			return err
		}
		return repo.Update(ctx, tx, locked)
	}))

	available, err = repo.ListAvailable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, available)

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AgentID)
	assert.Equal(t, testutil.AgentID, *got.AgentID)
}

func TestLedgerRepository_RecordOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	ledger := repository.NewLedgerRepository(db, repository.SchemaOrders)

	rec := domain.ProcessedEvent{
		EventID:       uuid.New(),
		EventType:     "PAYMENT_COMPLETED",
		AggregateID:   1,
		ConsumerGroup: "order-service",
	}

	var first, second bool
	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		first, err = ledger.Record(ctx, tx, rec)
		return err
	}))
	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		second, err = ledger.Record(ctx, tx, rec)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	assert.True(t, ledgerHas(t, db, repository.SchemaOrders, rec.EventID))

	n, err := ledger.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLedgerRepository_RolledBackRecordIsForgotten(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	ledger := repository.NewLedgerRepository(db, repository.SchemaDeliveries)
	rec := domain.ProcessedEvent{EventID: uuid.New(), EventType: "ORDER_READY_FOR_PICKUP", AggregateID: 3, ConsumerGroup: "delivery-service"}

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := ledger.Record(ctx, tx, rec); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	assert.False(t, ledgerHas(t, db, repository.SchemaDeliveries, rec.EventID))
}

func TestOutboxRepository_ClaimInOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	outbox := repository.NewOutboxRepository(db, repository.SchemaPayments)

	eventID := uuid.New()
	envelope := json.RawMessage(`{"eventId":"` + eventID.String() + `","eventType":"PAYMENT_COMPLETED"}`)
	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		for _, topic := range []string{"payment-completed", "payment-events"} {
			if err := outbox.Insert(ctx, tx, &domain.OutboxEvent{
				EventID: eventID, EventType: "PAYMENT_COMPLETED", Topic: topic, Key: "7", Envelope: envelope,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	pending, err := outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	require.NoError(t, repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		locked, err := outbox.TryLock(ctx, tx)
		require.NoError(t, err)
		assert.True(t, locked)

		events, err := outbox.ClaimPending(ctx, tx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "payment-completed", events[0].Topic)
		assert.Equal(t, "payment-events", events[1].Topic)
		assert.Equal(t, eventID, events[1].EventID)
		assert.JSONEq(t, string(envelope), string(events[0].Envelope))

		if err := outbox.MarkDispatched(ctx, tx, events[0].ID); err != nil {
			return err
		}
		return outbox.MarkAttemptFailed(ctx, tx, events[1].ID, "broker down", false)
	}))

	pending, err = outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	n, err := outbox.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOutboxRepository_AdvisoryLockIsExclusive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	outbox := repository.NewOutboxRepository(db, repository.SchemaOrders)

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx1.Rollback()
	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx2.Rollback()

	locked, err := outbox.TryLock(ctx, tx1)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = outbox.TryLock(ctx, tx2)
	require.NoError(t, err)
	assert.False(t, locked)
}
