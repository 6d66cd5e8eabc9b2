package testutil

import (
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
)

const (
	CustomerID   int64 = 101
	RestaurantID int64 = 201
	AgentID      int64 = 301
)

// SampleItems prices to a subtotal of 25.00.
func SampleItems() []domain.OrderItem {
	return []domain.OrderItem{
		{MenuItemID: 1, Name: "Masala Dosa", Quantity: 2, UnitPrice: decimal.RequireFromString("7.50")},
		{MenuItemID: 2, Name: "Filter Coffee", Quantity: 4, UnitPrice: decimal.RequireFromString("2.50")},
	}
}

// SeedOrder inserts an order in the given state directly, bypassing the
// service layer.
func SeedOrder(t *testing.T, db *sql.DB, status domain.OrderStatus, paymentStatus domain.PaymentStatus) *domain.Order {
	t.Helper()

	items := SampleItems()
	pricing, err := domain.PriceItems(items)
	if err != nil {
		t.Fatalf("price items: %v", err)
	}
	lat, lon := 12.9352, 77.6101
	o := &domain.Order{
		CustomerID:        CustomerID,
		RestaurantID:      RestaurantID,
		Status:            status,
		PaymentStatus:     paymentStatus,
		Items:             items,
		Subtotal:          pricing.Subtotal,
		DeliveryFee:       pricing.DeliveryFee,
		Tax:               pricing.Tax,
		Total:             pricing.Total,
		DeliveryAddress:   "42 Residency Road",
		PickupAddress:     domain.DefaultPickupAddress,
		DeliveryLatitude:  &lat,
		DeliveryLongitude: &lon,
	}

	repo := repository.NewOrderRepository(db)
	err = repository.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		return repo.Create(t.Context(), tx, o)
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func CountOutbox(t *testing.T, db *sql.DB, schema, eventType string) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM `+schema+`.outbox_events WHERE event_type = $1`, eventType,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count outbox %s/%s: %v", schema, eventType, err)
	}
	return count
}

func CountProcessed(t *testing.T, db *sql.DB, schema string) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + schema + `.processed_events`).Scan(&count); err != nil {
		t.Fatalf("count processed events %s: %v", schema, err)
	}
	return count
}
