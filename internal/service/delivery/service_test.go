package delivery_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/idempotency"
	"github.com/josh-kwaku/fooddelivery-saga/internal/outbox"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/delivery"
	"github.com/josh-kwaku/fooddelivery-saga/internal/testutil"
)

func setupDeliveryService(t *testing.T, db *sql.DB) *delivery.Service {
	t.Helper()
	return delivery.NewService(
		repository.NewDeliveryRepository(db),
		outbox.NewWriter(repository.NewOutboxRepository(db, repository.SchemaDeliveries), event.SourceDelivery),
		idempotency.NewGuard(db, repository.NewLedgerRepository(db, repository.SchemaDeliveries), delivery.ConsumerGroup),
		db,
	)
}

func orderEnvelope(t *testing.T, eventType string, orderID int64) event.Envelope {
	t.Helper()
	lat, lon := 12.9352, 77.6101
	env, err := event.New(eventType, event.SourceOrder, orderID, event.OrderPayload{
		OrderID:           orderID,
		CustomerID:        testutil.CustomerID,
		RestaurantID:      testutil.RestaurantID,
		Status:            "READY_FOR_PICKUP",
		DeliveryFee:       decimal.RequireFromString("2.99"),
		DeliveryAddress:   "42 Residency Road",
		PickupAddress:     "7 MG Road",
		DeliveryLatitude:  &lat,
		DeliveryLongitude: &lon,
	})
	require.NoError(t, err)
	return env
}

func readyDelivery(t *testing.T, svc *delivery.Service, orderID int64) *domain.Delivery {
	t.Helper()
	require.NoError(t, svc.HandleOrderReady(context.Background(), orderEnvelope(t, event.OrderReadyForPickup, orderID)))
	available, err := svc.ListAvailable(context.Background(), 10)
	require.NoError(t, err)
	for i := range available {
		if available[i].OrderID == orderID {
			return &available[i]
		}
	}
	t.Fatalf("no delivery for order %d", orderID)
	return nil
}

func TestHandleOrderReady_CopiesSnapshot(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)

	d := readyDelivery(t, svc, 1)

	assert.Equal(t, domain.DeliveryStatusAssigned, d.Status)
	assert.Nil(t, d.AgentID)
	assert.Equal(t, int64(testutil.CustomerID), d.CustomerID)
	assert.Equal(t, int64(testutil.RestaurantID), d.RestaurantID)
	assert.Equal(t, "7 MG Road", d.PickupAddress)
	assert.Equal(t, "42 Residency Road", d.DeliveryAddress)
	assert.Equal(t, "2.99", d.DeliveryFee.StringFixed(2))
	require.NotNil(t, d.DeliveryLatitude)
	assert.InDelta(t, 12.9352, *d.DeliveryLatitude, 1e-9)
}

func TestHandleOrderReady_OneDeliveryPerOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)
	ctx := context.Background()

	env := orderEnvelope(t, event.OrderReadyForPickup, 1)
	require.NoError(t, svc.HandleOrderReady(ctx, env))
	require.NoError(t, svc.HandleOrderReady(ctx, env))
	// a second, distinct event for the same order
	require.NoError(t, svc.HandleOrderReady(ctx, orderEnvelope(t, event.OrderReadyForPickup, 1)))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM deliveries.deliveries WHERE order_id = 1`).Scan(&n))
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, testutil.CountProcessed(t, db, repository.SchemaDeliveries))
}

func TestHandleOrderReady_MalformedIsPermanent(t *testing.T) {
	svc := delivery.NewService(nil, nil, nil, nil)
	env, err := event.New(event.OrderReadyForPickup, event.SourceOrder, 1, map[string]any{"status": "READY_FOR_PICKUP"})
	require.NoError(t, err)

	err = svc.HandleOrderReady(context.Background(), env)
	require.Error(t, err)
	assert.True(t, eventbus.IsPermanent(err))
}

func TestAccept(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)
	ctx := context.Background()
	d := readyDelivery(t, svc, 1)

	got, err := svc.Accept(ctx, d.ID, testutil.AgentID)
	require.NoError(t, err)
	require.NotNil(t, got.AgentID)
	assert.Equal(t, int64(testutil.AgentID), *got.AgentID)

	// the same agent again is a no-op
	_, err = svc.Accept(ctx, d.ID, testutil.AgentID)
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CountOutbox(t, db, repository.SchemaDeliveries, event.DeliveryAssigned))

	_, err = svc.Accept(ctx, d.ID, testutil.AgentID+1)
	require.ErrorIs(t, err, domain.ErrAlreadyAssigned)

	_, err = svc.Accept(ctx, 404, testutil.AgentID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStatus_ForwardOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)
	ctx := context.Background()
	d := readyDelivery(t, svc, 1)

	_, err := svc.UpdateStatus(ctx, d.ID, domain.DeliveryStatusPickedUp)
	require.ErrorIs(t, err, domain.ErrAgentRequired)

	_, err = svc.Accept(ctx, d.ID, testutil.AgentID)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, d.ID, domain.DeliveryStatusDelivered)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	for _, to := range []domain.DeliveryStatus{
		domain.DeliveryStatusPickedUp,
		domain.DeliveryStatusInTransit,
		domain.DeliveryStatusDelivered,
	} {
		got, err := svc.UpdateStatus(ctx, d.ID, to)
		require.NoError(t, err)
		assert.Equal(t, to, got.Status)
	}

	got, err := svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.PickupTime)
	assert.NotNil(t, got.DeliveryTime)

	_, err = svc.UpdateStatus(ctx, d.ID, domain.DeliveryStatusPickedUp)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, d.ID, domain.DeliveryStatusAssigned)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, 2, testutil.CountOutbox(t, db, repository.SchemaDeliveries, event.DeliveryPickedUp))
	assert.Equal(t, 2, testutil.CountOutbox(t, db, repository.SchemaDeliveries, event.DeliveryDelivered))
}

func TestUpdateStatus_BoundAgentCannotCancel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)
	ctx := context.Background()
	d := readyDelivery(t, svc, 1)

	_, err := svc.Accept(ctx, d.ID, testutil.AgentID)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, d.ID, domain.DeliveryStatusCancelled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Zero(t, testutil.CountOutbox(t, db, repository.SchemaDeliveries, event.DeliveryCancelled))

	got, err := svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusAssigned, got.Status)
}

func TestRelease(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)
	ctx := context.Background()
	d := readyDelivery(t, svc, 1)

	_, err := svc.Release(ctx, d.ID, testutil.AgentID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Accept(ctx, d.ID, testutil.AgentID)
	require.NoError(t, err)
	_, err = svc.Release(ctx, d.ID, testutil.AgentID+1)
	require.ErrorIs(t, err, domain.ErrForbidden)

	released, err := svc.Release(ctx, d.ID, testutil.AgentID)
	require.NoError(t, err)
	assert.Nil(t, released.AgentID)

	available, err := svc.ListAvailable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, d.ID, available[0].ID)

	// another agent can now take it
	got, err := svc.Accept(ctx, d.ID, testutil.AgentID+1)
	require.NoError(t, err)
	assert.Equal(t, int64(testutil.AgentID+1), *got.AgentID)
}

func TestUpdateAgentLocation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)
	ctx := context.Background()
	d := readyDelivery(t, svc, 1)

	got, err := svc.UpdateAgentLocation(ctx, d.ID, 12.9716, 77.5946)
	require.NoError(t, err)
	require.NotNil(t, got.DistanceKm)
	require.NotNil(t, got.EstimatedMinutes)
	assert.Equal(t, 4.38, *got.DistanceKm)
	assert.Equal(t, 9, *got.EstimatedMinutes)

	var raw string
	require.NoError(t, db.QueryRow(
		`SELECT envelope::text FROM deliveries.outbox_events WHERE event_type = $1 LIMIT 1`,
		event.DeliveryLocationUpdated,
	).Scan(&raw))
	var env event.Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	var payload event.DeliveryPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, d.ID, payload.DeliveryID)
	assert.Equal(t, 4.38, *payload.DistanceKm)

	_, err = svc.UpdateAgentLocation(ctx, d.ID, 91, 0)
	require.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}

func TestHandleOrderCancelled(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupDeliveryService(t, db)
	ctx := context.Background()

	assigned := readyDelivery(t, svc, 1)
	require.NoError(t, svc.HandleOrderCancelled(ctx, orderEnvelope(t, event.OrderCancelled, 1)))

	got, err := svc.GetDelivery(ctx, assigned.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusCancelled, got.Status)
	assert.Equal(t, 2, testutil.CountOutbox(t, db, repository.SchemaDeliveries, event.DeliveryCancelled))

	pickedUp := readyDelivery(t, svc, 2)
	_, err = svc.Accept(ctx, pickedUp.ID, testutil.AgentID)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, pickedUp.ID, domain.DeliveryStatusPickedUp)
	require.NoError(t, err)

	require.NoError(t, svc.HandleOrderCancelled(ctx, orderEnvelope(t, event.OrderCancelled, 2)))
	got, err = svc.GetDelivery(ctx, pickedUp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusPickedUp, got.Status)

	// an order that never reached the kitchen pass has no delivery
	require.NoError(t, svc.HandleOrderCancelled(ctx, orderEnvelope(t, event.OrderCancelled, 3)))
	assert.Equal(t, 2, testutil.CountOutbox(t, db, repository.SchemaDeliveries, event.DeliveryCancelled))
}

func TestRegister(t *testing.T) {
	reg := eventbus.NewRegistry()
	delivery.NewService(nil, nil, nil, nil).Register(reg)

	assert.Equal(t, []string{event.TopicOrderEvents}, reg.Topics())
}
